package job

import "path"

// Label is the classification recorded for a filed page.
type Label string

const (
	LabelStampedReceipt   Label = "STAMPED_RECEIPT"
	LabelUnstampedReceipt Label = "UNSTAMPED_RECEIPT"
	LabelCreditNote       Label = "CREDIT_NOTE"
)

const (
	dirReceipts    = "receipts"
	dirUnstamped   = "unstamped"
	dirStamped     = "stamped"
	dirCreditNotes = "credit_notes"
)

// Placement is where a page goes inside its document folder.
type Placement struct {
	Dir   string // slash separated, relative to the document folder
	Label Label
}

// Place maps a verdict onto the filing layout. A stamp only matters for
// receipts; everything that is not a receipt is a credit note.
func Place(isReceipt, hasStamp bool) Placement {
	switch {
	case isReceipt && hasStamp:
		return Placement{Dir: path.Join(dirReceipts, dirStamped), Label: LabelStampedReceipt}
	case isReceipt:
		return Placement{Dir: path.Join(dirReceipts, dirUnstamped), Label: LabelUnstampedReceipt}
	default:
		return Placement{Dir: dirCreditNotes, Label: LabelCreditNote}
	}
}

// documentDirs are created for every document before its pages are filed.
var documentDirs = []string{
	path.Join(dirReceipts, dirUnstamped),
	path.Join(dirReceipts, dirStamped),
	dirCreditNotes,
}
