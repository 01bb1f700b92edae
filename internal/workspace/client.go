// Package workspace is a typed client for the structured-notes workspace.
// The workspace owns its schema; this package only reads the fields the
// engine routes on.
package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/jordanhubbard/ensemble/internal/rpc"
	"github.com/jordanhubbard/ensemble/pkg/models"
)

// Remote method names.
const (
	MethodSearch         = "nodes.search"
	MethodRead           = "nodes.read"
	MethodCreate         = "nodes.create"
	MethodSetFieldOption = "nodes.set_field_option"
	MethodTrash          = "nodes.trash"
)

// Field names on task nodes.
const (
	FieldStatus   = "status"
	FieldPriority = "priority"
	FieldGroup    = "group"
	FieldGroupID  = "group_id"
	FieldAssignee = "assignee"
)

// Node is a workspace node as returned by search.
type Node struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Tags   []string          `json:"tags,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Predicate filters nodes by a field value. Op is "=" or "!=".
type Predicate struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

// Query selects nodes by tag and field predicates.
type Query struct {
	Tag        string      `json:"tag,omitempty"`
	Predicates []Predicate `json:"where,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Client wraps an rpc.Caller.
type Client struct {
	caller  rpc.Caller
	taskTag string
}

// NewClient creates a client. taskTag is the tag that marks task nodes.
func NewClient(caller rpc.Caller, taskTag string) *Client {
	if taskTag == "" {
		taskTag = "task"
	}
	return &Client{caller: caller, taskTag: taskTag}
}

func (c *Client) SearchNodes(ctx context.Context, q Query) ([]Node, error) {
	var out struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.caller.Call(ctx, MethodSearch, q, &out); err != nil {
		return nil, fmt.Errorf("search nodes: %w", err)
	}
	return out.Nodes, nil
}

// ReadNode returns a node rendered as text.
func (c *Client) ReadNode(ctx context.Context, id string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := c.caller.Call(ctx, MethodRead, map[string]string{"id": id}, &out); err != nil {
		return "", fmt.Errorf("read node %s: %w", id, err)
	}
	return out.Text, nil
}

// CreateNode creates a node under parentID from templated text and returns its id.
func (c *Client) CreateNode(ctx context.Context, parentID, text string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	args := map[string]string{"parent_id": parentID, "text": text}
	if err := c.caller.Call(ctx, MethodCreate, args, &out); err != nil {
		return "", fmt.Errorf("create node: %w", err)
	}
	return out.ID, nil
}

func (c *Client) SetFieldOption(ctx context.Context, nodeID, field, option string) error {
	args := map[string]string{"id": nodeID, "field": field, "option": option}
	if err := c.caller.Call(ctx, MethodSetFieldOption, args, nil); err != nil {
		return fmt.Errorf("set %s on %s: %w", field, nodeID, err)
	}
	return nil
}

func (c *Client) TrashNode(ctx context.Context, id string) error {
	if err := c.caller.Call(ctx, MethodTrash, map[string]string{"id": id}, nil); err != nil {
		return fmt.Errorf("trash node %s: %w", id, err)
	}
	return nil
}

// PendingTasks returns every task node that is not done.
func (c *Client) PendingTasks(ctx context.Context) ([]models.WorkItem, error) {
	nodes, err := c.SearchNodes(ctx, Query{
		Tag:        c.taskTag,
		Predicates: []Predicate{{Field: FieldStatus, Op: "!=", Value: string(models.StatusDone)}},
	})
	if err != nil {
		return nil, err
	}
	items := make([]models.WorkItem, 0, len(nodes))
	for _, n := range nodes {
		item := toWorkItem(n)
		// The remote filter is advisory; enforce it here too.
		if item.Pending() {
			items = append(items, item)
		}
	}
	return items, nil
}

func toWorkItem(n Node) models.WorkItem {
	return models.WorkItem{
		ID:                n.ID,
		Name:              n.Name,
		Status:            normalizeStatus(n.Fields[FieldStatus]),
		Priority:          normalizePriority(n.Fields[FieldPriority]),
		Group:             n.Fields[FieldGroup],
		GroupID:           n.Fields[FieldGroupID],
		AssignedPersonaID: strings.TrimSpace(n.Fields[FieldAssignee]),
	}
}

func normalizeStatus(s string) models.WorkItemStatus {
	switch strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), "-")) {
	case "done", "complete", "completed":
		return models.StatusDone
	case "in-progress", "doing", "active":
		return models.StatusInProgress
	default:
		return models.StatusBacklog
	}
}

func normalizePriority(s string) models.Priority {
	switch models.Priority(strings.ToLower(strings.TrimSpace(s))) {
	case models.PriorityHigh:
		return models.PriorityHigh
	case models.PriorityLow:
		return models.PriorityLow
	case models.PriorityMedium:
		return models.PriorityMedium
	default:
		return ""
	}
}
