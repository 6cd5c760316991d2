package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joescharf/qmt/internal/middleware"
	"github.com/joescharf/qmt/internal/models"
	"github.com/joescharf/qmt/internal/provider"
	"github.com/joescharf/qmt/internal/snapshot"
	"github.com/joescharf/qmt/internal/store"
	"github.com/joescharf/qmt/internal/tools"
)

const (
	// cancelGrace bounds the wind-down persistence after a cancel.
	cancelGrace = 5 * time.Second
	// cancelledNote is the assistant message recorded on cancellation.
	cancelledNote = "cancelled by user"
	// compactKeepRecent messages survive a compaction uncompressed.
	compactKeepRecent = 4

	compactionSystemPrompt = "Summarize the conversation so far for your own future reference. " +
		"Keep objectives, decisions, file paths, and unresolved items. Be concise."
)

// runCycle executes one prompt cycle on the actor's session. It owns
// the event order: PromptReceived, UserMessageStored, then per turn
// LlmRequestStart/End and tool bracketing, ending with the stored
// assistant reply or a terminal event.
func (ag *Agent) runCycle(ctx context.Context, a *actor, parts []models.MessagePart) (*PromptResponse, error) {
	sessionID := a.sess.PublicID
	cycleID := store.NewID()

	ag.emit(ctx, models.AgentEvent{
		SessionID: sessionID,
		Kind:      models.EventPromptReceived,
		Content:   partsText(parts),
	})

	userMsg := &models.AgentMessage{SessionID: sessionID, Role: models.RoleUser, Parts: parts}
	if err := ag.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}
	ag.emit(ctx, models.AgentEvent{
		SessionID: sessionID,
		Kind:      models.EventUserMessageStored,
		Content:   partsText(parts),
	})

	history, err := ag.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	mctx := &middleware.Context{
		SessionID: sessionID,
		CycleID:   cycleID,
		Messages:  deref(history),
		StartedAt: time.Now(),
	}
	a.driver.Reset()

	for {
		if ctx.Err() != nil {
			return ag.cancelCycle(a, mctx)
		}

		state, err := a.driver.Apply(middleware.BeforeTurn{Ctx: mctx})
		if err != nil {
			return nil, ag.abortCycle(ctx, sessionID, err)
		}
		switch st := state.(type) {
		case middleware.Wait:
			if done, err := ag.resolveWait(ctx, a, mctx, st); err != nil {
				return nil, ag.abortCycle(ctx, sessionID, err)
			} else if done {
				continue
			}
			return nil, ag.abortCycle(ctx, sessionID, fmt.Errorf("cycle parked on %s with no resolver", st.Reason))
		case middleware.Done:
			return ag.finishDone(ctx, a, mctx, st)
		case middleware.Aborted:
			return nil, ag.abortCycle(ctx, sessionID, st.Cause)
		}

		for _, text := range mctx.DrainInjections() {
			ag.emit(ctx, models.AgentEvent{
				SessionID: sessionID,
				Kind:      models.EventMiddlewareInjected,
				Content:   text,
			})
			mctx.Messages = append(mctx.Messages, models.AgentMessage{
				SessionID: sessionID,
				Role:      models.RoleUser,
				Parts:     []models.MessagePart{models.TextPart(text)},
			})
		}

		resp, err := ag.requestLLM(ctx, a, mctx)
		if err != nil {
			if ctx.Err() != nil {
				return ag.cancelCycle(a, mctx)
			}
			return nil, ag.abortCycle(ctx, sessionID, err)
		}

		state, err = a.driver.Apply(middleware.AfterLLMResponse{Ctx: mctx, Response: resp})
		if err != nil {
			return nil, ag.abortCycle(ctx, sessionID, err)
		}
		switch st := state.(type) {
		case middleware.AfterLLMResponse:
			resp = st.Response
		case middleware.Wait:
			if done, err := ag.resolveWait(ctx, a, mctx, st); err != nil {
				return nil, ag.abortCycle(ctx, sessionID, err)
			} else if done {
				continue
			}
			return nil, ag.abortCycle(ctx, sessionID, fmt.Errorf("cycle parked on %s with no resolver", st.Reason))
		case middleware.Done:
			return ag.finishDone(ctx, a, mctx, st)
		case middleware.Aborted:
			return nil, ag.abortCycle(ctx, sessionID, st.Cause)
		}

		if len(resp.ToolCalls) == 0 {
			return ag.finishText(ctx, a, mctx, resp)
		}

		// Use/result pairing needs an id even when the provider omits one.
		for i := range resp.ToolCalls {
			if resp.ToolCalls[i].ID == "" {
				resp.ToolCalls[i].ID = uuid.NewString()
			}
		}

		if err := ag.storeToolUseMessage(ctx, a, mctx, resp); err != nil {
			return nil, err
		}

		results, err := ag.runToolBatch(ctx, a, mctx, resp.ToolCalls)
		if err != nil {
			if ctx.Err() != nil {
				return ag.cancelCycle(a, mctx)
			}
			return nil, ag.abortCycle(ctx, sessionID, err)
		}
		mctx.ToolCalls += len(results)

		if err := ag.storeToolResults(ctx, a, mctx, results); err != nil {
			return nil, err
		}

		state, err = a.driver.Apply(middleware.AfterToolBatch{Ctx: mctx, Results: results})
		if err != nil {
			return nil, ag.abortCycle(ctx, sessionID, err)
		}
		switch st := state.(type) {
		case middleware.Done:
			return ag.finishDone(ctx, a, mctx, st)
		case middleware.Aborted:
			return nil, ag.abortCycle(ctx, sessionID, st.Cause)
		}
	}
}

// requestLLM brackets one provider request with start/end events and
// accumulates usage into the cycle context.
func (ag *Agent) requestLLM(ctx context.Context, a *actor, mctx *middleware.Context) (*provider.ChatResponse, error) {
	schemas := a.registry.Schemas(a.currentPolicy())
	ag.emit(ctx, models.AgentEvent{
		SessionID:    mctx.SessionID,
		Kind:         models.EventLLMRequestStart,
		MessageCount: len(mctx.Messages),
	})

	resp, err := a.provider.Chat(ctx, provider.ChatRequest{
		System:    a.systemPrompt,
		Messages:  mctx.Messages,
		Tools:     schemas,
		Model:     a.currentModel(),
		MaxTokens: ag.maxTokens,
		Params:    ag.params,
	})
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}

	mctx.Steps++
	mctx.Usage.InputTokens += resp.Usage.InputTokens
	mctx.Usage.OutputTokens += resp.Usage.OutputTokens
	usage := resp.Usage
	ag.emit(ctx, models.AgentEvent{
		SessionID: mctx.SessionID,
		Kind:      models.EventLLMRequestEnd,
		Usage:     &usage,
		ToolCalls: len(resp.ToolCalls),
	})
	return resp, nil
}

// finishText stores the final assistant reply and ends the cycle.
func (ag *Agent) finishText(ctx context.Context, a *actor, mctx *middleware.Context, resp *provider.ChatResponse) (*PromptResponse, error) {
	msg := &models.AgentMessage{
		SessionID: mctx.SessionID,
		Role:      models.RoleAssistant,
		Parts:     []models.MessagePart{models.TextPart(resp.Text)},
	}
	if err := ag.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}
	ag.emit(ctx, models.AgentEvent{
		SessionID: mctx.SessionID,
		Kind:      models.EventAssistantMessageStored,
		Content:   resp.Text,
	})

	stop := resp.FinishReason
	if stop == "" {
		stop = "end_turn"
	}
	return &PromptResponse{
		SessionID:  mctx.SessionID,
		Text:       resp.Text,
		StopReason: stop,
		Usage:      mctx.Usage,
	}, nil
}

// finishDone records a middleware stop (limits etc.) as a journaled
// event plus an assistant message naming the cause.
func (ag *Agent) finishDone(ctx context.Context, a *actor, mctx *middleware.Context, done middleware.Done) (*PromptResponse, error) {
	ag.emit(ctx, models.AgentEvent{
		SessionID: mctx.SessionID,
		Kind:      models.EventMiddlewareStopped,
		Reason:    done.Reason,
		Message:   done.Detail,
	})

	detail := done.Detail
	if detail == "" {
		detail = done.Reason
	}
	text := fmt.Sprintf("stopped: %s", detail)
	msg := &models.AgentMessage{
		SessionID: mctx.SessionID,
		Role:      models.RoleAssistant,
		Parts:     []models.MessagePart{models.TextPart(text)},
	}
	if err := ag.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store stop message: %w", err)
	}
	ag.emit(ctx, models.AgentEvent{
		SessionID: mctx.SessionID,
		Kind:      models.EventAssistantMessageStored,
		Content:   text,
	})

	return &PromptResponse{
		SessionID:  mctx.SessionID,
		Text:       text,
		StopReason: done.Reason,
		Usage:      mctx.Usage,
	}, nil
}

// abortCycle journals the failure and returns it.
func (ag *Agent) abortCycle(ctx context.Context, sessionID string, cause error) error {
	ag.emit(ctx, models.AgentEvent{
		SessionID: sessionID,
		Kind:      models.EventError,
		Message:   cause.Error(),
	})
	return cause
}

// cancelCycle winds the session down after a cancel: a short grace
// context covers the persistence, the note is stored without a message
// event, and Cancelled is the last event of the cycle.
func (ag *Agent) cancelCycle(a *actor, mctx *middleware.Context) (*PromptResponse, error) {
	grace, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()

	msg := &models.AgentMessage{
		SessionID: mctx.SessionID,
		Role:      models.RoleAssistant,
		Parts:     []models.MessagePart{models.TextPart(cancelledNote)},
	}
	if err := ag.store.AppendMessage(grace, msg); err != nil {
		ag.logger.Error("cancel note persistence failed", "session_id", mctx.SessionID, "error", err)
	}
	ag.emit(grace, models.AgentEvent{
		SessionID: mctx.SessionID,
		Kind:      models.EventCancelled,
	})

	return &PromptResponse{
		SessionID:  mctx.SessionID,
		Text:       cancelledNote,
		StopReason: "cancelled",
		Usage:      mctx.Usage,
	}, context.Canceled
}

// resolveWait handles park reasons the scheduler can satisfy. It
// reports whether the cycle may resume.
func (ag *Agent) resolveWait(ctx context.Context, a *actor, mctx *middleware.Context, w middleware.Wait) (bool, error) {
	switch w.Reason {
	case middleware.WaitCompactionPending:
		if err := ag.compactHistory(ctx, a, mctx, w.TokenEstimate); err != nil {
			return false, err
		}
		return true, nil
	case middleware.WaitRateLimited:
		until := w.Deadline
		if until.IsZero() {
			until = time.Now().Add(time.Second)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Until(until)):
		}
		return true, nil
	}
	return false, nil
}

// compactHistory summarizes the history prefix in place. The store
// stays append-only; only the in-memory window shrinks.
func (ag *Agent) compactHistory(ctx context.Context, a *actor, mctx *middleware.Context, estimate int) error {
	ag.emit(ctx, models.AgentEvent{
		SessionID:     mctx.SessionID,
		Kind:          models.EventCompactionStart,
		TokenEstimate: estimate,
	})

	keep := compactKeepRecent
	if keep > len(mctx.Messages) {
		keep = len(mctx.Messages)
	}
	prefix := mctx.Messages[:len(mctx.Messages)-keep]
	recent := mctx.Messages[len(mctx.Messages)-keep:]

	resp, err := a.provider.Chat(ctx, provider.ChatRequest{
		System:    compactionSystemPrompt,
		Messages:  prefix,
		Model:     a.currentModel(),
		MaxTokens: ag.maxTokens,
	})
	if err != nil {
		return fmt.Errorf("compaction request: %w", err)
	}

	summary := models.AgentMessage{
		SessionID: mctx.SessionID,
		Role:      models.RoleAssistant,
		Parts:     []models.MessagePart{models.TextPart("Summary of the conversation so far:\n" + resp.Text)},
	}
	compacted := make([]models.AgentMessage, 0, len(recent)+1)
	compacted = append(compacted, summary)
	compacted = append(compacted, recent...)
	mctx.Messages = compacted
	mctx.Usage.InputTokens += resp.Usage.InputTokens
	mctx.Usage.OutputTokens += resp.Usage.OutputTokens

	ag.emit(ctx, models.AgentEvent{
		SessionID:  mctx.SessionID,
		Kind:       models.EventCompactionEnd,
		Summary:    resp.Text,
		SummaryLen: len(resp.Text),
	})
	if a.compact != nil {
		a.compact.MarkCompacted()
	}
	return nil
}

// storeToolUseMessage persists the assistant message carrying the tool
// requests before any tool runs. No message event is emitted for it;
// AssistantMessageStored marks final replies only.
func (ag *Agent) storeToolUseMessage(ctx context.Context, a *actor, mctx *middleware.Context, resp *provider.ChatResponse) error {
	var parts []models.MessagePart
	if resp.Text != "" {
		parts = append(parts, models.TextPart(resp.Text))
	}
	for _, call := range resp.ToolCalls {
		parts = append(parts, models.ToolUsePart(call.ID, call.Name, call.Arguments))
	}
	msg := &models.AgentMessage{
		SessionID: mctx.SessionID,
		Role:      models.RoleAssistant,
		Parts:     parts,
	}
	if err := ag.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("store tool-use message: %w", err)
	}
	mctx.Messages = append(mctx.Messages, *msg)
	return nil
}

// storeToolResults persists the batch outcome as one tool-role message.
func (ag *Agent) storeToolResults(ctx context.Context, a *actor, mctx *middleware.Context, results []tools.Result) error {
	parts := make([]models.MessagePart, 0, len(results))
	for _, res := range results {
		parts = append(parts, models.ToolResultPart(res.CallID, res.IsError, res.Content))
	}
	msg := &models.AgentMessage{
		SessionID: mctx.SessionID,
		Role:      models.RoleTool,
		Parts:     parts,
	}
	if err := ag.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("store tool results: %w", err)
	}
	mctx.Messages = append(mctx.Messages, *msg)
	return nil
}

// runToolBatch applies the per-call middleware pass serially, resolves
// delegations inline, then dispatches the remaining calls. Results come
// back positionally aligned with the request order.
func (ag *Agent) runToolBatch(ctx context.Context, a *actor, mctx *middleware.Context, provCalls []provider.ToolCall) ([]tools.Result, error) {
	calls := make([]tools.Call, len(provCalls))
	for i, pc := range provCalls {
		calls[i] = tools.Call{ID: pc.ID, Name: pc.Name, Arguments: pc.Arguments}
	}

	results := make([]tools.Result, len(calls))
	settled := make([]bool, len(calls))

	for i, call := range calls {
		state, err := a.driver.Apply(middleware.BeforeToolCall{Ctx: mctx, Call: call})
		if err != nil {
			return nil, err
		}
		switch st := state.(type) {
		case middleware.BeforeToolCall:
			if st.Blocked != nil {
				results[i] = *st.Blocked
				settled[i] = true
				ag.emitToolBracket(ctx, mctx.SessionID, call, results[i])
			} else if st.Replay != nil {
				results[i] = *st.Replay
				settled[i] = true
				ag.emitToolBracket(ctx, mctx.SessionID, call, results[i])
			}
		case middleware.Wait:
			if st.Reason != middleware.WaitDelegationPending || a.delegation == nil {
				return nil, fmt.Errorf("tool call parked on %s with no resolver", st.Reason)
			}
			res, err := ag.resolveDelegation(ctx, a, mctx, call)
			if err != nil {
				return nil, err
			}
			results[i] = res
			settled[i] = true
			ag.emitToolBracket(ctx, mctx.SessionID, call, res)
		case middleware.Done:
			return nil, fmt.Errorf("middleware ended the cycle mid-batch: %s", st.Reason)
		case middleware.Aborted:
			return nil, st.Cause
		}
	}

	var pending []tools.Call
	var pendingIdx []int
	for i, call := range calls {
		if !settled[i] {
			pending = append(pending, call)
			pendingIdx = append(pendingIdx, i)
		}
	}
	if len(pending) == 0 {
		return results, nil
	}

	dispatched := ag.dispatcher.Dispatch(ctx, pending, func(callCtx context.Context, call tools.Call) tools.Result {
		return ag.runTool(callCtx, a, mctx, call)
	})
	for j, res := range dispatched {
		results[pendingIdx[j]] = res
	}
	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, nil
}

// runTool executes one call with event bracketing, wrapping mutating
// calls in snapshots per the configured policy.
func (ag *Agent) runTool(ctx context.Context, a *actor, mctx *middleware.Context, call tools.Call) tools.Result {
	ag.emit(ctx, models.AgentEvent{
		SessionID:  mctx.SessionID,
		Kind:       models.EventToolCallStart,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  call.Arguments,
	})

	// A registered tool the session policy no longer admits (mode,
	// deny list, or missing capability grant) is blocked with a
	// synthetic result instead of running.
	if tool, ok := a.registry.Get(call.Name); ok && !a.currentPolicy().Permits(tool.Descriptor()) {
		res := tools.Result{
			CallID:  call.ID,
			Name:    call.Name,
			IsError: true,
			Content: fmt.Sprintf("tool %q is not permitted by the session tool policy", call.Name),
		}
		ag.emit(ctx, models.AgentEvent{
			SessionID:  mctx.SessionID,
			Kind:       models.EventToolCallEnd,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			IsError:    true,
			Result:     res.Content,
		})
		return res
	}

	mutating := ag.dispatcher.IsMutating(call.Name)
	var preID snapshot.ID
	if mutating && ag.snapPolicy != snapshot.PolicyOff {
		ag.emit(ctx, models.AgentEvent{
			SessionID: mctx.SessionID,
			Kind:      models.EventSnapshotStart,
			Policy:    ag.snapPolicy.String(),
		})
		if ag.snapPolicy == snapshot.PolicyFull {
			id, err := ag.snapshots.Snapshot(ctx, a.sess.Cwd, fmt.Sprintf("pre-%s-%s", mctx.CycleID, call.ID))
			if err != nil {
				ag.logger.Warn("pre-call snapshot failed", "tool", call.Name, "error", err)
			} else {
				preID = id
			}
		}
	}

	res, err := a.registry.Invoke(ctx, call.ID, call.Name, call.Arguments)
	if err != nil {
		res = tools.Result{CallID: call.ID, Name: call.Name, IsError: true, Content: "cancelled"}
	}

	if mutating {
		ag.workspaces.Invalidate(a.sess.Cwd)
	}
	if mutating && ag.snapPolicy != snapshot.PolicyOff {
		ag.finishSnapshot(ctx, a, mctx, call, preID)
	}

	ag.emit(ctx, models.AgentEvent{
		SessionID:  mctx.SessionID,
		Kind:       models.EventToolCallEnd,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    res.IsError,
		Result:     res.Content,
	})
	return res
}

// finishSnapshot closes the bracket around a mutating call: under Full
// it captures the post state, diffs, and advances the session pointer;
// under Metadata only the labeled row is recorded.
func (ag *Agent) finishSnapshot(ctx context.Context, a *actor, mctx *middleware.Context, call tools.Call, preID snapshot.ID) {
	label := fmt.Sprintf("post-%s-%s", mctx.CycleID, call.ID)
	sessionID := mctx.SessionID

	if ag.snapPolicy == snapshot.PolicyMetadata {
		row := &models.IntentSnapshot{SessionID: sessionID, Label: label}
		if err := ag.store.CreateIntentSnapshot(ctx, row); err != nil {
			ag.logger.Warn("intent snapshot row failed", "label", label, "error", err)
		}
		ag.emit(ctx, models.AgentEvent{
			SessionID: sessionID,
			Kind:      models.EventSnapshotEnd,
			Summary:   "No changes",
		})
		return
	}

	postID, err := ag.snapshots.Snapshot(ctx, a.sess.Cwd, label)
	if err != nil {
		ag.logger.Warn("post-call snapshot failed", "tool", call.Name, "error", err)
		ag.emit(ctx, models.AgentEvent{
			SessionID: sessionID,
			Kind:      models.EventSnapshotEnd,
			Summary:   "snapshot failed",
		})
		return
	}

	summary := snapshot.Summary{}
	if preID != "" {
		if diff, err := ag.snapshots.Diff(ctx, preID, postID); err == nil {
			summary = diff
		} else {
			ag.logger.Warn("snapshot diff failed", "error", err)
		}
	}

	rootHash := string(postID)
	row := &models.IntentSnapshot{SessionID: sessionID, Label: label, RootHash: rootHash}
	if err := ag.store.CreateIntentSnapshot(ctx, row); err != nil {
		ag.logger.Warn("intent snapshot row failed", "label", label, "error", err)
	}
	if err := ag.store.UpdateSessionPointers(ctx, sessionID, nil, &rootHash); err != nil {
		ag.logger.Warn("session pointer update failed", "session_id", sessionID, "error", err)
	}

	ag.emit(ctx, models.AgentEvent{
		SessionID: sessionID,
		Kind:      models.EventSnapshotEnd,
		Summary:   summary.String(),
	})
}

// emitToolBracket records start and end for calls that never dispatch
// (blocked, replayed, delegated) so the journal shows every call.
func (ag *Agent) emitToolBracket(ctx context.Context, sessionID string, call tools.Call, res tools.Result) {
	ag.emit(ctx, models.AgentEvent{
		SessionID:  sessionID,
		Kind:       models.EventToolCallStart,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Arguments:  call.Arguments,
	})
	ag.emit(ctx, models.AgentEvent{
		SessionID:  sessionID,
		Kind:       models.EventToolCallEnd,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    res.IsError,
		Result:     res.Content,
	})
}

// resolveDelegation drives the spawned child session to completion and
// turns its final reply into the delegate call's result.
func (ag *Agent) resolveDelegation(ctx context.Context, a *actor, mctx *middleware.Context, call tools.Call) (tools.Result, error) {
	pending := a.delegation.Pending()
	if pending == nil || pending.Call.ID != call.ID {
		return tools.Result{}, errors.New("no pending delegation for call")
	}
	defer a.delegation.Resolve()

	childID := pending.ChildSessionID
	delegationID, err := ag.delegationRowFor(ctx, mctx.SessionID, childID)
	if err != nil {
		ag.logger.Warn("delegation row lookup failed", "child_session_id", childID, "error", err)
	}
	setStatus := func(status models.DelegationStatus) {
		if delegationID == "" {
			return
		}
		if err := ag.store.UpdateDelegationStatus(ctx, delegationID, status); err != nil {
			ag.logger.Warn("delegation status update failed", "delegation_id", delegationID, "error", err)
		}
	}

	setStatus(models.DelegationRunning)
	childResp, err := ag.Prompt(ctx, childID, []models.MessagePart{models.TextPart(pending.Objective)})
	if err != nil {
		if ctx.Err() != nil {
			setStatus(models.DelegationCancelled)
			return tools.Result{}, ctx.Err()
		}
		setStatus(models.DelegationFailed)
		return tools.Result{
			CallID:  call.ID,
			Name:    call.Name,
			IsError: true,
			Content: fmt.Sprintf("delegation failed: %v", err),
		}, nil
	}

	setStatus(models.DelegationSucceeded)
	return tools.Result{
		CallID:  call.ID,
		Name:    call.Name,
		Content: childResp.Text,
	}, nil
}

func (ag *Agent) delegationRowFor(ctx context.Context, parentID, childID string) (string, error) {
	rows, err := ag.store.ListDelegations(ctx, parentID)
	if err != nil {
		return "", err
	}
	for _, d := range rows {
		if d.ChildSessionID == childID {
			return d.ID, nil
		}
	}
	return "", fmt.Errorf("no delegation row for child %s", childID)
}

func partsText(parts []models.MessagePart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == models.PartText {
			b.WriteString(p.Content)
		}
	}
	return b.String()
}

func deref(msgs []*models.AgentMessage) []models.AgentMessage {
	out := make([]models.AgentMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, *m)
	}
	return out
}
