package safemode

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestDocumentSchema(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(11)
	fork := tc.addHeaders(blocks[4], 5, testBits)

	res := func() *Result {
		tc.c.Lock.Lock()
		defer tc.c.Lock.Unlock()
		r := newResult(tc.c.Tip())
		r.addFork(fork[4], fork[0], LevelUnknown)
		return r
	}()

	tc.c.Lock.Lock()
	doc, err := res.MarshalDocument(tc.c, false)
	tc.c.Lock.Unlock()
	if err != nil {
		t.Fatalf("MarshalDocument failed: %v", err)
	}

	var parsed struct {
		SafeModeEnabled bool                     `json:"safemodeenabled"`
		ActiveTip       map[string]interface{}   `json:"activetip"`
		TimeUTC         string                   `json:"timeutc"`
		Forks           []map[string]interface{} `json:"forks"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("Document is not valid JSON: %v", err)
	}

	if !parsed.SafeModeEnabled {
		t.Fatal("safemodeenabled must be true for a non-NONE result")
	}
	if parsed.ActiveTip["hash"] != blocks[10].Hash.String() {
		t.Fatal("activetip must carry the active tip hash")
	}
	if parsed.ActiveTip["status"] != "active" {
		t.Fatalf("Active tip status must be \"active\", got %v", parsed.ActiveTip["status"])
	}
	if _, err := time.Parse("2006-01-02T15:04:05Z", parsed.TimeUTC); err != nil {
		t.Fatalf("timeutc must be ISO-8601 UTC: %v", err)
	}
	if len(parsed.Forks) != 1 {
		t.Fatalf("Expected 1 fork, got %d", len(parsed.Forks))
	}

	f := parsed.Forks[0]
	first := f["forkfirstblock"].(map[string]interface{})
	if first["hash"] != fork[0].Hash.String() {
		t.Fatal("forkfirstblock must be the fork base")
	}
	if first["status"] != "headers-only" {
		t.Fatalf("Headers-only fork base status wrong: %v", first["status"])
	}

	common := f["lastcommonblock"].(map[string]interface{})
	if common["hash"] != blocks[4].Hash.String() {
		t.Fatal("lastcommonblock must be the base parent")
	}

	activeFirst := f["activechainfirstblock"].(map[string]interface{})
	if activeFirst["hash"] != blocks[5].Hash.String() {
		t.Fatal("activechainfirstblock must be the active successor of the common block")
	}

	tips := f["tips"].([]interface{})
	if len(tips) != 1 {
		t.Fatalf("Expected 1 tip, got %d", len(tips))
	}
}

func TestDocumentEmptyResult(t *testing.T) {
	tc := newTestChain(t)
	tc.buildActiveChain(3)

	res := newResult(nil)

	tc.c.Lock.Lock()
	doc, err := res.MarshalDocument(tc.c, false)
	tc.c.Lock.Unlock()
	if err != nil {
		t.Fatalf("MarshalDocument failed: %v", err)
	}

	if !bytes.Contains(doc, []byte(`"activetip":{}`)) {
		t.Fatalf("Absent active tip must serialise as {}: %s", doc)
	}
	if !bytes.Contains(doc, []byte(`"forks":[]`)) {
		t.Fatalf("Empty fork list must serialise as []: %s", doc)
	}
	if !bytes.Contains(doc, []byte(`"safemodeenabled":false`)) {
		t.Fatalf("Empty result must not enable safe mode: %s", doc)
	}
}

func TestDocumentDeterministicOrdering(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(11)
	forkA := tc.addHeaders(blocks[6], 3, testBits)
	forkB := tc.addHeaders(blocks[4], 4, testBits)
	forkC := tc.addHeaders(forkB[0], 3, testBits)

	build := func() *Result {
		r := newResult(tc.c.Tip())
		// Insertion order deliberately differs between runs below
		r.addFork(forkA[2], forkA[0], LevelUnknown)
		r.addFork(forkB[3], forkB[0], LevelUnknown)
		r.addFork(forkC[2], forkB[0], LevelUnknown)
		return r
	}
	buildReversed := func() *Result {
		r := newResult(tc.c.Tip())
		r.addFork(forkC[2], forkB[0], LevelUnknown)
		r.addFork(forkB[3], forkB[0], LevelUnknown)
		r.addFork(forkA[2], forkA[0], LevelUnknown)
		return r
	}

	now := time.Unix(1700000000, 0)

	tc.c.Lock.Lock()
	docA, err := json.Marshal(build().render(tc.c, now))
	tc.c.Lock.Unlock()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	tc.c.Lock.Lock()
	docB, err := json.Marshal(buildReversed().render(tc.c, now))
	tc.c.Lock.Unlock()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if !bytes.Equal(docA, docB) {
		t.Fatalf("Equal results must serialise byte-identically:\n%s\n%s", docA, docB)
	}

	// Forks are ordered by base height ascending
	var parsed struct {
		Forks []struct {
			ForkFirstBlock struct {
				Height int64 `json:"height"`
			} `json:"forkfirstblock"`
		} `json:"forks"`
	}
	if err := json.Unmarshal(docA, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(parsed.Forks) != 2 {
		t.Fatalf("Expected 2 fork groups, got %d", len(parsed.Forks))
	}
	if parsed.Forks[0].ForkFirstBlock.Height > parsed.Forks[1].ForkFirstBlock.Height {
		t.Fatal("Forks must be ordered by base height ascending")
	}
}

func TestBlockStatusDerivation(t *testing.T) {
	tc := newTestChain(t)
	blocks := tc.buildActiveChain(6)

	headersOnly := tc.addHeaders(blocks[2], 3, testBits)
	validated := tc.addHeaders(blocks[2], 3, testBits)
	tc.markValidated(validated...)
	invalid := tc.addHeaders(blocks[2], 3, testBits)
	tc.markInvalid(invalid[0])

	tc.c.Lock.Lock()
	defer tc.c.Lock.Unlock()

	if got := blockStatusString(tc.c, blocks[3]); got != "active" {
		t.Fatalf("Expected active, got %s", got)
	}
	if got := blockStatusString(tc.c, invalid[1]); got != "invalid" {
		t.Fatalf("Expected invalid, got %s", got)
	}
	if got := blockStatusString(tc.c, headersOnly[2]); got != "headers-only" {
		t.Fatalf("Expected headers-only, got %s", got)
	}
	if got := blockStatusString(tc.c, validated[2]); got != "valid-fork" {
		t.Fatalf("Expected valid-fork, got %s", got)
	}

	// Tree-valid with data present but scripts unverified
	treeValid := tc.c.Lookup(headersOnly[0].Hash)
	treeValid.ChainTx = 1
	if got := blockStatusString(tc.c, treeValid); got != "valid-headers" {
		t.Fatalf("Expected valid-headers, got %s", got)
	}
}
