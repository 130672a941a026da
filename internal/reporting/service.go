package reporting

import (
	"context"
	"errors"
	"fmt"

	"voice-secretary/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxScannedCalls bounds one summary; older calls in the range are reported as truncated.
const maxScannedCalls = 5000

// CallLister is implemented by *calls.Manager. Results must be ordered by started_at, newest first.
type CallLister interface {
	ListForUser(ctx context.Context, userID string, f calls.ListFilter) ([]calls.Call, error)
}

type Service struct {
	calls CallLister
}

func NewService(calls CallLister) *Service { return &Service{calls: calls} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" {
		return CallsSummary{}, fmt.Errorf("%w: user_id required", ErrInvalidRequest)
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, fmt.Errorf("%w: range must have from before to", ErrInvalidRequest)
	}
	dir := calls.Direction(req.Direction)
	if dir != "" && dir != calls.DirectionInbound && dir != calls.DirectionOutbound {
		return CallsSummary{}, fmt.Errorf("%w: direction %q", ErrInvalidRequest, req.Direction)
	}
	if s.calls == nil {
		return CallsSummary{}, errors.New("reporting: call store not configured")
	}

	out := CallsSummary{UserID: req.UserID, Range: req.Range, ByPurpose: map[string]int{}}
	var withDuration int

	f := calls.ListFilter{Direction: dir, Limit: calls.MaxListLimit}
	for scanned := 0; ; {
		page, err := s.calls.ListForUser(ctx, req.UserID, f)
		if err != nil {
			return CallsSummary{}, err
		}
		for _, c := range page {
			if !c.StartedAt.Before(req.Range.To) {
				continue
			}
			if c.StartedAt.Before(req.Range.From) {
				return finish(out, withDuration), nil
			}
			if c.DurationSeconds != nil {
				withDuration++
			}
			out.add(c)
		}
		scanned += len(page)
		if len(page) < f.Limit {
			return finish(out, withDuration), nil
		}
		if scanned >= maxScannedCalls {
			out.Truncated = true
			return finish(out, withDuration), nil
		}
		f.Offset += len(page)
	}
}

func (s *CallsSummary) add(c calls.Call) {
	s.TotalCalls++
	if c.Direction == calls.DirectionInbound {
		s.InboundCalls++
	} else {
		s.OutboundCalls++
	}
	switch c.Status {
	case calls.StatusCompleted:
		s.CompletedCalls++
	case calls.StatusFailed:
		s.FailedCalls++
	case calls.StatusNoAnswer:
		s.NoAnswerCalls++
	case calls.StatusBusy:
		s.BusyCalls++
	case calls.StatusCanceled:
		s.CanceledCalls++
	case calls.StatusInProgress:
		s.InProgressCalls++
	case calls.StatusInitiated, calls.StatusRinging:
		// not counted separately
	}
	if c.AnsweredAt != nil {
		s.AnsweredCalls++
	}
	if c.DurationSeconds != nil {
		s.TotalDurationSeconds += *c.DurationSeconds
	}
	if c.Transcription != "" {
		s.TranscribedCalls++
	}
	purpose := string(c.Purpose)
	if purpose == "" {
		purpose = string(calls.PurposeOther)
	}
	s.ByPurpose[purpose]++
}

func finish(s CallsSummary, withDuration int) CallsSummary {
	if withDuration > 0 {
		s.AverageDurationSeconds = s.TotalDurationSeconds / withDuration
	}
	if s.TotalCalls > 0 {
		s.ConnectionRate = float64(s.AnsweredCalls) / float64(s.TotalCalls)
	}
	return s
}
