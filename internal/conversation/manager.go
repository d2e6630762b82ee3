package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gmarchetti/donna/internal/observability"
	"github.com/gmarchetti/donna/internal/tasks"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Input validation failures are the caller's fault; everything else
// Handle returns is an internal failure. Transports use these to pick
// the status code.
var (
	ErrMissingOwner       = errors.New("owner id is required")
	ErrMissingInstruction = errors.New("instruction is required")
)

// Request is the external chat/command boundary: an optional
// conversation id plus a free-form instruction.
type Request struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Instruction    string `json:"instruction"`
}

// Response carries the conversation id, a human-readable result, the
// operations that ran, and a status flag.
type Response struct {
	ConversationID string       `json:"conversation_id"`
	Reply          string       `json:"reply"`
	Invocations    []Invocation `json:"invocations,omitempty"`
	Status         string       `json:"status"`
}

// Manager orchestrates one request end to end: load history, plan,
// execute, persist, return. It keeps no per-conversation state between
// calls, so a restart between two requests is invisible to the client:
// history reconstructs entirely from the store.
type Manager struct {
	store        Store
	executor     *tasks.Executor
	planner      Planner
	metrics      *observability.Metrics
	historyLimit int
}

func NewManager(store Store, executor *tasks.Executor, planner Planner, metrics *observability.Metrics, historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Manager{
		store:        store,
		executor:     executor,
		planner:      planner,
		metrics:      metrics,
		historyLimit: historyLimit,
	}
}

// Handle processes one chat/command request for the given owner.
func (m *Manager) Handle(ctx context.Context, ownerID string, req Request) (Response, error) {
	ownerID = strings.TrimSpace(ownerID)
	instruction := strings.TrimSpace(req.Instruction)
	if ownerID == "" {
		return Response{}, ErrMissingOwner
	}
	if instruction == "" {
		return Response{}, ErrMissingInstruction
	}

	conv, err := m.loadOrCreate(ctx, ownerID, req.ConversationID)
	if err != nil {
		return Response{}, err
	}
	history, err := m.store.Messages(ctx, ownerID, conv.ID, m.historyLimit)
	if err != nil {
		return Response{}, fmt.Errorf("load history: %w", err)
	}

	now := time.Now().UTC()
	incoming := Message{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		ConversationID: conv.ID,
		Role:           RoleRequester,
		Content:        instruction,
		CreatedAt:      now,
	}
	if err := m.store.AppendMessage(ctx, incoming); err != nil {
		return Response{}, fmt.Errorf("persist request message: %w", err)
	}

	plan, err := m.planner.Plan(ctx, ownerID, instruction, history)
	if err != nil {
		return Response{}, fmt.Errorf("plan instruction: %w", err)
	}

	reply, invocations := m.execute(ctx, ownerID, plan)

	status := StatusOK
	for _, inv := range invocations {
		if inv.Status == StatusError {
			status = StatusError
			break
		}
	}

	outgoing := Message{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		ConversationID: conv.ID,
		Role:           RoleExecutor,
		Content:        reply,
		Invocations:    invocations,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.AppendMessage(ctx, outgoing); err != nil {
		return Response{}, fmt.Errorf("persist response message: %w", err)
	}
	if err := m.store.TouchConversation(ctx, ownerID, conv.ID); err != nil {
		return Response{}, fmt.Errorf("touch conversation: %w", err)
	}

	m.metrics.ConversationTurn()
	return Response{
		ConversationID: conv.ID,
		Reply:          reply,
		Invocations:    invocations,
		Status:         status,
	}, nil
}

func (m *Manager) loadOrCreate(ctx context.Context, ownerID, conversationID string) (Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID != "" {
		conv, err := m.store.GetConversation(ctx, ownerID, conversationID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrStoreNotFound) {
			return Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		// Unknown id: fall through and start a fresh conversation rather
		// than failing the request.
	}

	now := time.Now().UTC()
	conv := Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// execute runs each planned command through the executor. Command
// failures become part of the reply, never an unhandled error to the
// caller; work already committed before a failure stands.
func (m *Manager) execute(ctx context.Context, ownerID string, plan Plan) (string, []Invocation) {
	var parts []string
	if strings.TrimSpace(plan.Reply) != "" {
		parts = append(parts, strings.TrimSpace(plan.Reply))
	}

	invocations := make([]Invocation, 0, len(plan.Commands))
	for _, cmd := range plan.Commands {
		inv := Invocation{Op: cmd.Op, TaskID: cmd.TaskID, Status: StatusOK}
		switch cmd.Op {
		case "add":
			task, err := m.executor.Add(ctx, ownerID, cmd.Add)
			if err != nil {
				inv = failed(inv, err)
				parts = append(parts, commandErrorText("add the task", err))
				break
			}
			inv.TaskID = task.ID
			parts = append(parts, fmt.Sprintf("Added %q.", task.Title))
		case "list":
			list, err := m.executor.List(ctx, ownerID, cmd.Filter)
			if err != nil {
				inv = failed(inv, err)
				parts = append(parts, commandErrorText("list your tasks", err))
				break
			}
			parts = append(parts, renderList(list, cmd.Filter))
		case "complete":
			task, err := m.executor.Complete(ctx, ownerID, cmd.TaskID)
			if err != nil {
				inv = failed(inv, err)
				parts = append(parts, commandErrorText("complete the task", err))
				break
			}
			parts = append(parts, fmt.Sprintf("Marked %q as done.", task.Title))
		case "delete":
			if err := m.executor.Delete(ctx, ownerID, cmd.TaskID); err != nil {
				inv = failed(inv, err)
				parts = append(parts, commandErrorText("delete the task", err))
				break
			}
			parts = append(parts, "Deleted the task.")
		case "update":
			task, err := m.executor.Update(ctx, ownerID, cmd.TaskID, cmd.Update)
			if err != nil {
				inv = failed(inv, err)
				parts = append(parts, commandErrorText("update the task", err))
				break
			}
			parts = append(parts, fmt.Sprintf("Updated %q.", task.Title))
		default:
			inv.Status = StatusError
			inv.Error = fmt.Sprintf("unknown operation %q", cmd.Op)
			parts = append(parts, "I didn't understand that request.")
		}
		invocations = append(invocations, inv)
	}

	if len(parts) == 0 {
		parts = append(parts, "Nothing to do.")
	}
	return strings.Join(parts, " "), invocations
}

func failed(inv Invocation, err error) Invocation {
	inv.Status = StatusError
	inv.Error = err.Error()
	return inv
}

// commandErrorText keeps user-facing failures readable without leaking
// storage internals.
func commandErrorText(what string, err error) string {
	var verr *tasks.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("I couldn't %s: %s.", what, verr.Error())
	case errors.Is(err, tasks.ErrNotFound):
		return fmt.Sprintf("I couldn't %s: no such task.", what)
	default:
		return fmt.Sprintf("I couldn't %s right now, please try again.", what)
	}
}

func renderList(list []tasks.Task, filter tasks.Filter) string {
	if len(list) == 0 {
		switch filter {
		case tasks.FilterPending:
			return "You have no pending tasks."
		case tasks.FilterCompleted:
			return "You have no completed tasks."
		default:
			return "You have no tasks."
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d task(s):", len(list))
	for _, t := range list {
		state := "pending"
		if t.Completed {
			state = "done"
		}
		fmt.Fprintf(&b, " %q (%s);", t.Title, state)
	}
	return strings.TrimSuffix(b.String(), ";")
}
