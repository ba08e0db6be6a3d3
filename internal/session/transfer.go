package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/warmtransfer/internal/domain"
)

const (
	statusInitiating = "Initiating transfer..."
	statusAwaiting   = "Transfer initiated. Please explain the summary to Agent B."
	statusCompleted  = "Transfer completed! You have left the call."
)

// InitiateTransfer summarizes the conversation for the receiving agent. A summarizer
// failure yields a locally synthesized summary, so a transfer is never blocked.
func (c *Controller) InitiateTransfer(ctx context.Context) (domain.Snapshot, error) {
	c.mu.Lock()
	sess := c.current
	if sess == nil || sess.ended {
		c.mu.Unlock()
		return domain.Snapshot{}, ErrNoActiveSession
	}
	if !sess.role.CanTransfer() {
		c.mu.Unlock()
		return domain.Snapshot{}, c.rejectTransfer(&PermissionError{Role: sess.role, Action: "initiate a transfer"})
	}
	if sess.transfer != domain.TransferIdle {
		c.mu.Unlock()
		return domain.Snapshot{}, c.rejectTransfer(ErrTransferNotReady)
	}
	sess.transfer = domain.TransferSummarizing
	sess.transferStatus = statusInitiating
	captured := len(sess.transcript)
	history := transcriptLines(sess.transcript, c.cfg.PlaceholderTranscript)
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	c.events.SessionChanged(snap)
	slog.Info("Initiating transfer", "room_name", sess.roomName, "transcript_entries", captured)

	text, err := c.backend.GenerateSummary(ctx, sess.roomName, history)
	summary := domain.CallSummary{Text: strings.TrimSpace(text), Origin: domain.SummaryGenerated}
	if err == nil && summary.Text == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		slog.Warn("Using fallback summary", "room_name", sess.roomName, "error", &SummarizationUnavailableError{Err: err})
		summary = domain.CallSummary{
			Text:   fallbackSummary(sess.roomName, sess.role, captured),
			Origin: domain.SummaryFallback,
		}
	}

	c.mu.Lock()
	if !c.isLiveLocked(sess) {
		c.mu.Unlock()
		return domain.Snapshot{}, ErrStaleSession
	}
	sess.summary = &summary
	sess.transfer = domain.TransferAwaitingHandoff
	sess.transferStatus = statusAwaiting
	snap = c.snapshotLocked(sess)
	c.mu.Unlock()

	c.record("save_summary", func(rctx context.Context) error {
		return c.recorder.SaveSummary(rctx, domain.SummaryRecord{
			CallID:           sess.id,
			RoomName:         sess.roomName,
			Role:             sess.role,
			Text:             summary.Text,
			Origin:           summary.Origin,
			TranscriptLength: captured,
			CreatedAt:        time.Now().UTC(),
		})
	})

	slog.Info("Transfer awaiting handoff", "room_name", sess.roomName, "summary_origin", summary.Origin)
	c.events.SessionChanged(snap)
	return snap, nil
}

// CompleteTransfer leaves the room after the handoff and navigates away once RedirectDelay elapses.
func (c *Controller) CompleteTransfer(ctx context.Context) (domain.Snapshot, error) {
	c.mu.Lock()
	sess := c.current
	if sess == nil || sess.ended {
		c.mu.Unlock()
		return domain.Snapshot{}, ErrNoActiveSession
	}
	if !sess.role.CanTransfer() {
		c.mu.Unlock()
		return domain.Snapshot{}, c.rejectTransfer(&PermissionError{Role: sess.role, Action: "complete a transfer"})
	}
	if sess.transfer != domain.TransferAwaitingHandoff {
		c.mu.Unlock()
		return domain.Snapshot{}, c.rejectTransfer(ErrTransferNotReady)
	}
	c.mu.Unlock()

	if !c.endSession(sess, "transferred") {
		return domain.Snapshot{}, ErrStaleSession
	}
	c.notifyLeave(ctx, sess)

	c.mu.Lock()
	sess.transfer = domain.TransferCompleted
	sess.transferStatus = statusCompleted
	snap := c.snapshotLocked(sess)
	c.mu.Unlock()

	slog.Info("Transfer completed", "room_name", sess.roomName, "session_id", sess.id)
	c.events.SessionChanged(snap)
	c.scheduleNavigate(sess, c.cfg.RedirectDelay)
	return snap, nil
}

// rejectTransfer tells the tab why a transfer action was refused and returns err.
func (c *Controller) rejectTransfer(err error) error {
	code := domain.ErrorCodeTransfer
	var permErr *PermissionError
	if errors.As(err, &permErr) {
		code = domain.ErrorCodePermission
	}
	c.events.SessionError(code, err.Error())
	return err
}
