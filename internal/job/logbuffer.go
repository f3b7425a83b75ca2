package job

const defaultLogCapacity = 2000

// LogBuffer keeps the most recent lines of a job log in a fixed ring.
// It is not safe for concurrent use; the Store lock guards it.
type LogBuffer struct {
	lines []string
	start int
	size  int
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &LogBuffer{lines: make([]string, capacity)}
}

// Append adds a line, overwriting the oldest one when full.
func (b *LogBuffer) Append(line string) {
	capacity := len(b.lines)
	if b.size < capacity {
		b.lines[(b.start+b.size)%capacity] = line
		b.size++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % capacity
}

func (b *LogBuffer) Len() int { return b.size }

// Tail returns a copy of the last n lines, oldest first. n <= 0 means all.
func (b *LogBuffer) Tail(n int) []string {
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]string, n)
	capacity := len(b.lines)
	first := b.start + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.lines[(first+i)%capacity]
	}
	return out
}
