// Package agent holds the intent-detection collaborator. The lifecycle
// manager only depends on the conversation.Planner interface, so this
// rule-based implementation can be swapped for a model-backed one
// without touching the core.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/gmarchetti/donna/internal/conversation"
	"github.com/gmarchetti/donna/internal/tasks"
)

// RulePlanner maps instructions onto executor commands with keyword
// rules. Tasks referenced by title are resolved through the executor's
// owner-scoped listing, never by touching storage directly.
type RulePlanner struct {
	executor *tasks.Executor
}

func NewRulePlanner(executor *tasks.Executor) *RulePlanner {
	return &RulePlanner{executor: executor}
}

func (p *RulePlanner) Plan(ctx context.Context, ownerID, instruction string, _ []conversation.Message) (conversation.Plan, error) {
	text := strings.TrimSpace(instruction)
	lower := strings.ToLower(text)

	switch {
	case hasAnyPrefix(lower, "list", "show", "what"):
		filter := tasks.FilterAll
		if strings.Contains(lower, "pending") || strings.Contains(lower, "open") {
			filter = tasks.FilterPending
		} else if strings.Contains(lower, "done") || strings.Contains(lower, "completed") || strings.Contains(lower, "finished") {
			filter = tasks.FilterCompleted
		}
		return conversation.Plan{Commands: []conversation.Command{{Op: "list", Filter: filter}}}, nil

	case hasAnyPrefix(lower, "add", "create", "remind me to", "new task"):
		title := stripPrefixes(text, "add", "create", "remind me to", "new task")
		if strings.TrimSpace(title) == "" {
			return conversation.Plan{Reply: "What should the task say?"}, nil
		}
		return conversation.Plan{Commands: []conversation.Command{{
			Op:  "add",
			Add: tasks.AddRequest{Title: strings.TrimSpace(title)},
		}}}, nil

	case hasAnyPrefix(lower, "complete", "finish", "done with", "mark"):
		ref := stripPrefixes(text, "complete", "finish", "done with", "mark")
		ref = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(ref), "as done"))
		taskID, err := p.resolve(ctx, ownerID, ref)
		if err != nil {
			return conversation.Plan{Reply: fmt.Sprintf("I couldn't find a task matching %q.", ref)}, nil
		}
		return conversation.Plan{Commands: []conversation.Command{{Op: "complete", TaskID: taskID}}}, nil

	case hasAnyPrefix(lower, "delete", "remove", "forget"):
		ref := stripPrefixes(text, "delete", "remove", "forget")
		taskID, err := p.resolve(ctx, ownerID, ref)
		if err != nil {
			return conversation.Plan{Reply: fmt.Sprintf("I couldn't find a task matching %q.", strings.TrimSpace(ref))}, nil
		}
		return conversation.Plan{Commands: []conversation.Command{{Op: "delete", TaskID: taskID}}}, nil

	case hasAnyPrefix(lower, "rename", "retitle"):
		ref, newTitle, ok := splitRename(text)
		if !ok {
			return conversation.Plan{Reply: "Tell me which task to rename and the new title, like: rename buy milk to buy oat milk."}, nil
		}
		taskID, err := p.resolve(ctx, ownerID, ref)
		if err != nil {
			return conversation.Plan{Reply: fmt.Sprintf("I couldn't find a task matching %q.", ref)}, nil
		}
		return conversation.Plan{Commands: []conversation.Command{{
			Op:     "update",
			TaskID: taskID,
			Update: tasks.UpdateRequest{Title: &newTitle},
		}}}, nil
	}

	return conversation.Plan{Reply: "I can add, list, complete, delete and rename tasks."}, nil
}

// resolve finds the task whose title matches the reference, scoped to
// the owner. An exact id is accepted as-is when it names a task.
func (p *RulePlanner) resolve(ctx context.Context, ownerID, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty task reference")
	}
	list, err := p.executor.List(ctx, ownerID, tasks.FilterAll)
	if err != nil {
		return "", err
	}
	lowerRef := strings.ToLower(ref)
	for _, t := range list {
		if t.ID == ref || strings.ToLower(t.Title) == lowerRef {
			return t.ID, nil
		}
	}
	for _, t := range list {
		if strings.Contains(strings.ToLower(t.Title), lowerRef) {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("no task matches %q", ref)
}

func hasAnyPrefix(lower string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func stripPrefixes(text string, prefixes ...string) string {
	lower := strings.ToLower(text)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			rest := strings.TrimSpace(text[len(p):])
			return strings.TrimPrefix(rest, ": ")
		}
	}
	return text
}

func splitRename(text string) (ref, newTitle string, ok bool) {
	rest := stripPrefixes(text, "rename", "retitle")
	idx := strings.LastIndex(strings.ToLower(rest), " to ")
	if idx < 0 {
		return "", "", false
	}
	ref = strings.TrimSpace(rest[:idx])
	newTitle = strings.TrimSpace(rest[idx+len(" to "):])
	if ref == "" || newTitle == "" {
		return "", "", false
	}
	return ref, newTitle, true
}
