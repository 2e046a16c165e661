package httpapi

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditTrailWrapsAround(t *testing.T) {
	trail := newAuditTrail(3, nil, nil)
	assert.Empty(t, trail.recent(0))

	for i := 1; i <= 5; i++ {
		trail.record(auditEntry{Status: i})
	}
	statuses := func(entries []auditEntry) []int {
		out := make([]int, len(entries))
		for i, e := range entries {
			out[i] = e.Status
		}
		return out
	}
	assert.Equal(t, []int{3, 4, 5}, statuses(trail.recent(0)))
	assert.Equal(t, []int{4, 5}, statuses(trail.recent(2)))
	assert.Equal(t, []int{3, 4, 5}, statuses(trail.recent(50)))
}

func TestAuditResource(t *testing.T) {
	cases := map[string]string{
		"/api/loans/42/return":    "loans",
		"/api/admin/users/7/role": "users",
		"/api/book-copies/book/1": "book-copies",
		"/api/admin":              "admin",
		"/":                       "",
	}
	for path, want := range cases {
		assert.Equal(t, want, auditResource(path), path)
	}
}

func TestJSONLAuditSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := openAuditSink(path)
	require.NoError(t, err)

	trail := newAuditTrail(10, sink, nil)
	trail.record(auditEntry{Actor: "u1", Method: "POST", Resource: "books", Status: 201})
	trail.record(auditEntry{Actor: "u1", Method: "DELETE", Resource: "books", Status: 204})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var got []auditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e auditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "DELETE", got[1].Method)

	none, err := openAuditSink("")
	require.NoError(t, err)
	assert.Nil(t, none)
}
