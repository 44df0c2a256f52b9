package docxsession

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/cexll/docx-session-engine/pkg/content"
	"github.com/cexll/docx-session-engine/pkg/docxerr"
	"github.com/cexll/docx-session-engine/pkg/docxwal"
)

// maxBatchOps bounds apply_patch batches, matching the InvalidRequest case
// in the error taxonomy.
const maxBatchOps = 10

// ExternalSyncSummary is the structured payload sync_external returns and
// records in the WAL; aliased from docxwal since the WAL owns the record
// shape it persists (see docxwal.ExternalSyncRecord).
type ExternalSyncSummary = docxwal.ExternalSyncSummary

// DecodeOps parses a JSON array of operation objects into content.Op
// values. It checks the array shape and batch size with gjson before
// paying for a full per-op unmarshal, since a batch over the limit should
// fail cheaply rather than decode work it is about to discard.
func DecodeOps(raw []byte) ([]content.Op, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, docxerr.New(docxerr.InvalidRequest, "operations payload must be a JSON array")
	}
	results := parsed.Array()
	if len(results) == 0 {
		return nil, docxerr.New(docxerr.InvalidRequest, "operations payload must not be empty")
	}
	if len(results) > maxBatchOps {
		return nil, docxerr.New(docxerr.InvalidRequest, "batch exceeds maximum of 10 operations")
	}

	ops := make([]content.Op, len(results))
	for i, r := range results {
		if err := json.Unmarshal([]byte(r.Raw), &ops[i]); err != nil {
			return nil, docxerr.Wrap(docxerr.InvalidRequest, "decode operation", err)
		}
	}
	return ops, nil
}

// OpStatus enumerates a single operation's outcome within a batch result,
// per the worked example of a partially-failing batch (§8 scenario 3).
type OpStatus string

const (
	OpStatusApplied      OpStatus = "applied"
	OpStatusWouldSucceed OpStatus = "would_succeed"
	OpStatusError        OpStatus = "error"
	OpStatusNotAttempted OpStatus = "not_attempted"
)

// OpResult is the polymorphic per-op result record the batch response
// carries, identified by its index in the submitted batch.
type OpResult struct {
	Index     int      `json:"index"`
	Status    OpStatus `json:"status"`
	ElementID string   `json:"element_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// BatchResult is the top-level apply_patch response shape.
type BatchResult struct {
	Success    bool       `json:"success"`
	Applied    int        `json:"applied"`
	Total      int        `json:"total"`
	Operations []OpResult `json:"operations"`
}

// JSON renders r incrementally with sjson, appending each per-op record to
// the operations array rather than marshalling the whole struct at once,
// mirroring diffengine.Result.JSON's shape for the same wire boundary.
func (r BatchResult) JSON() ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	doc, err = sjson.SetBytes(doc, "success", r.Success)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "encode success", err)
	}
	doc, err = sjson.SetBytes(doc, "applied", r.Applied)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "encode applied", err)
	}
	doc, err = sjson.SetBytes(doc, "total", r.Total)
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "encode total", err)
	}
	doc, err = sjson.SetRawBytes(doc, "operations", []byte(`[]`))
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "encode operations", err)
	}
	for _, op := range r.Operations {
		raw, marshalErr := json.Marshal(op)
		if marshalErr != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, "marshal op result", marshalErr)
		}
		doc, err = sjson.SetRawBytes(doc, "operations.-1", raw)
		if err != nil {
			return nil, docxerr.Wrap(docxerr.StorageError, "append op result", err)
		}
	}
	return doc, nil
}
