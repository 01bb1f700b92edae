package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jordanhubbard/ensemble/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller records calls and answers from a canned JSON reply per method.
type fakeCaller struct {
	replies map[string]string
	errs    map[string]error
	calls   []string
	args    []interface{}
}

func (f *fakeCaller) Call(ctx context.Context, method string, args, out interface{}) error {
	f.calls = append(f.calls, method)
	f.args = append(f.args, args)
	if err := f.errs[method]; err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(f.replies[method]), out)
}

func TestPendingTasks(t *testing.T) {
	fc := &fakeCaller{replies: map[string]string{
		MethodSearch: `{"nodes":[
			{"id":"1","name":"Write thesis intro","fields":{"status":"In Progress","priority":"High","group":"PhD"}},
			{"id":"2","name":"Old item","fields":{"status":"Done"}},
			{"id":"3","name":"Buy shoes","fields":{"assignee":" coach ","group_id":"g7"}}
		]}`,
	}}
	c := NewClient(fc, "")

	items, err := c.PendingTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.WorkItem{
		ID: "1", Name: "Write thesis intro", Status: models.StatusInProgress,
		Priority: models.PriorityHigh, Group: "PhD",
	}, items[0])
	assert.Equal(t, models.StatusBacklog, items[1].Status)
	assert.Equal(t, "coach", items[1].AssignedPersonaID)
	assert.Equal(t, "g7", items[1].GroupID)

	q := fc.args[0].(Query)
	assert.Equal(t, "task", q.Tag)
	assert.Equal(t, []Predicate{{Field: "status", Op: "!=", Value: "done"}}, q.Predicates)
}

func TestPendingTasksPropagatesErrors(t *testing.T) {
	boom := errors.New("unreachable")
	c := NewClient(&fakeCaller{errs: map[string]error{MethodSearch: boom}}, "task")
	_, err := c.PendingTasks(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestNodeOperations(t *testing.T) {
	fc := &fakeCaller{replies: map[string]string{
		MethodRead:   `{"text":"# Node"}`,
		MethodCreate: `{"id":"new-1"}`,
	}}
	c := NewClient(fc, "task")
	ctx := context.Background()

	text, err := c.ReadNode(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "# Node", text)

	id, err := c.CreateNode(ctx, "inbox", "- New task #task")
	require.NoError(t, err)
	assert.Equal(t, "new-1", id)

	require.NoError(t, c.SetFieldOption(ctx, "n1", FieldStatus, "Done"))
	require.NoError(t, c.TrashNode(ctx, "n1"))
	assert.Equal(t, []string{MethodRead, MethodCreate, MethodSetFieldOption, MethodTrash}, fc.calls)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, models.StatusInProgress, normalizeStatus("in_progress"))
	assert.Equal(t, models.StatusDone, normalizeStatus("Completed"))
	assert.Equal(t, models.StatusBacklog, normalizeStatus(""))
}
