package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDecodeVerdictDefaultsAndCoercion(t *testing.T) {
	cases := []struct {
		name      string
		in        string
		receipt   bool
		stamp     bool
		details   string
		data      string
		inclusion int
	}{
		{"strict", `{"is_receipt":true,"has_stamp":false,"detected_stamp_details":"","document_data":{"a": 1}}`, true, false, "", `{"a":1}`, 0},
		{"missing fields", `{"is_receipt":false}`, false, false, "", "{}", 0},
		{"string bools", `{"is_receipt":"true","has_stamp":"no","found_inclusion_keywords":"RECEIPT"}`, true, false, "", "{}", 1},
		{"null values", `{"is_receipt":null,"has_stamp":1,"detected_stamp_details":null,"document_data":null}`, false, true, "", "{}", 0},
		{"fenced", "```json\n{\"is_receipt\":true,\"has_stamp\":true,\"detected_stamp_details\":\"blue PAID\"}\n```", true, true, "blue PAID", "{}", 0},
	}
	for _, c := range cases {
		v, err := DecodeVerdict(c.in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.name, err)
		}
		if v.IsReceipt != c.receipt || v.HasStamp != c.stamp || v.StampDetails != c.details {
			t.Fatalf("%s: unexpected verdict %+v", c.name, v)
		}
		if got := v.DocumentDataText(); got != c.data {
			t.Fatalf("%s: document data %q want %q", c.name, got, c.data)
		}
		if len(v.InclusionKeywords) != c.inclusion {
			t.Fatalf("%s: inclusion keywords %v", c.name, v.InclusionKeywords)
		}
	}
}

func TestDecodeVerdictRejects(t *testing.T) {
	for _, in := range []string{"not json", `[1,2]`, `null`} {
		if _, err := DecodeVerdict(in); !errors.Is(err, ErrInvalidVerdict) {
			t.Fatalf("expected ErrInvalidVerdict for %q, got %v", in, err)
		}
	}
	// malformed optional fields are coerced or dropped rather than failing the page
	v, err := DecodeVerdict(`{"found_inclusion_keywords":{"a":1},"detected_stamp_details":3,"is_receipt":[]}`)
	if err != nil || v.IsReceipt || v.StampDetails != "3" || len(v.InclusionKeywords) != 0 {
		t.Fatalf("expected coerced verdict, got %+v err=%v", v, err)
	}
	// an unrecognized boolean spelling is dropped and defaults to false
	v, err = DecodeVerdict(`{"is_receipt":"maybe","has_stamp":true}`)
	if err != nil || v.IsReceipt || !v.HasStamp {
		t.Fatalf("expected lenient drop, got %+v err=%v", v, err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func newOracleServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req chatRequest
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "vision-model" || !strings.Contains(string(body), "data:image/png;base64,") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"tokens"}}`))
			return
		}
		resp := map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": content}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestClassifySuccess(t *testing.T) {
	srv := newOracleServer(t, http.StatusOK, `{"is_receipt":true,"has_stamp":true,"detected_stamp_details":"red RECEIVED","document_data":{"no":"42"}}`)
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "vision-model", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	v, err := c.Classify(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !v.IsReceipt || !v.HasStamp || v.StampDetails != "red RECEIVED" || v.DocumentDataText() != `{"no":"42"}` {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestClassifyErrorStatus(t *testing.T) {
	srv := newOracleServer(t, http.StatusTooManyRequests, "")
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 2 * time.Second})
	_, err := c.Classify(context.Background(), []byte("png"), "vision-model")
	if err == nil || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestClassifyInvalidContent(t *testing.T) {
	srv := newOracleServer(t, http.StatusOK, "I cannot read this page")
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 2 * time.Second})
	if _, err := c.Classify(context.Background(), []byte("png"), "vision-model"); !errors.Is(err, ErrInvalidVerdict) {
		t.Fatalf("expected ErrInvalidVerdict, got %v", err)
	}
}

func TestClassifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 50 * time.Millisecond})
	if _, err := c.Classify(context.Background(), []byte("png"), "vision-model"); err == nil {
		t.Fatalf("expected timeout error")
	}
}
