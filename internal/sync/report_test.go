package sync

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmined/drivesync/internal/drive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_Counts(t *testing.T) {
	r := newReport("pass")
	r.record(&SyncOperation{Type: OpWriteRemote})
	r.record(&SyncOperation{Type: OpWriteLocal})
	r.record(&SyncOperation{Type: OpDeleteLocal})
	r.record(&SyncOperation{Type: OpUnchanged})
	r.recordConflict(&ConflictCopy{Path: "a.txt", CopyPath: "a (t).txt", Winner: SideRemote})

	assert.Equal(t, 4, r.Propagations())
	assert.Equal(t, 1, r.Unchanged)
	assert.Len(t, r.ConflictCopies, 1)
	assert.NoError(t, r.Err())
}

func TestReport_Errors(t *testing.T) {
	r := newReport("pass")
	r.recordError(&SyncOperation{Type: OpWriteRemote, Path: "z.txt"}, drive.ErrConflict)
	r.recordError(&SyncOperation{Type: OpWriteLocal, Path: "a.txt"}, ErrIntegrity)
	r.finish()

	require.Len(t, r.Errors, 2)
	assert.Equal(t, "a.txt", r.Errors[0].Path)
	assert.Equal(t, []string{r.Errors[0].Error(), r.Errors[1].Error()}, r.ErrorMessages)

	err := r.Err()
	assert.ErrorIs(t, err, drive.ErrConflict)
	assert.ErrorIs(t, err, ErrIntegrity)

	var pe *PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, OpWriteLocal, pe.Op)
}

func TestReport_JSON(t *testing.T) {
	r := newReport("pass")
	r.record(&SyncOperation{Type: OpWriteRemote})
	r.recordError(&SyncOperation{Type: OpWriteRemote, Path: "b.txt"}, drive.ErrConflict)
	r.finish()

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "pass", decoded["id"])
	assert.EqualValues(t, 1, decoded["uploads"])
	assert.Len(t, decoded["errors"], 1)
}
