package agent

import (
	"context"
	"fmt"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/events"
	"Agent-Arena/internal/llm"
	"Agent-Arena/internal/tools"
	"Agent-Arena/pkg/logger"
)

const (
	CodeToolFailure   xerrors.Code = "TOOL_FAILURE"
	CodePolicyBlocked xerrors.Code = "POLICY_BLOCKED"
	CodeUnknownAction xerrors.Code = "UNKNOWN_ACTION"
)

func init() {
	xerrors.Register(CodeToolFailure, xerrors.Attributes{
		Message:   "tool execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodePolicyBlocked, xerrors.Attributes{
		Message:  "action blocked by run constraints",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUnknownAction, xerrors.Attributes{
		Message:  "unknown action type",
		Severity: xerrors.SeverityWarning,
	})
}

// act screens the decision against the run's constraints and, when allowed,
// executes it. It always returns a result; tool failures are folded into it.
func (a *Agent) act(ctx context.Context, step int, d *llm.Decision) tools.Result {
	verdict := a.deps.Policy.Evaluate(d.ActionType, d.Action, a.cfg.Constraints)
	if !verdict.Allowed {
		logger.Audit().Info("action blocked by constraint", "run_id", a.cfg.RunID, "step", step,
			"action_type", string(d.ActionType), "reason", verdict.Reason)
		return tools.Result{
			"status":      tools.StatusBlocked,
			"code":        string(CodePolicyBlocked),
			"action_type": string(d.ActionType),
			"reason":      verdict.Reason,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.settings.ToolTimeout)
	defer cancel()
	res, err := a.dispatch(ctx, d)
	if err != nil {
		a.logger.Warn("tool dispatch failed", "step", step, "action_type", string(d.ActionType), "error", err)
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(CodeToolFailure, err, err.Error())
		}
		return tools.ErrorResult(err)
	}
	if res == nil {
		return tools.Result{"status": tools.StatusError, "code": string(CodeToolFailure), "error": "tool returned no result"}
	}
	return res
}

// dispatch routes the decision to the one tool matching its action type.
// A panicking tool is reported as an error like any other failure.
func (a *Agent) dispatch(ctx context.Context, d *llm.Decision) (res tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("tool panicked: %v", r)
		}
	}()

	switch d.ActionType {
	case llm.ActionFinishReasoning:
		return tools.Result{"status": tools.StatusReasoningOnly, "reasoning": d.Reasoning}, nil
	case llm.ActionBrowserTask:
		if a.deps.Browser == nil {
			return nil, xerrors.New(CodeToolFailure, "browser tool is not configured")
		}
		var task tools.BrowserTask
		if err := tools.DecodePayload(d.Action, &task); err != nil {
			return nil, err
		}
		return a.deps.Browser.Execute(ctx, task)
	case llm.ActionSendEmail:
		if a.deps.Mailer == nil {
			return nil, xerrors.New(CodeToolFailure, "email tool is not configured")
		}
		var email tools.Email
		if err := tools.DecodePayload(d.Action, &email); err != nil {
			return nil, err
		}
		res, err := a.deps.Mailer.Send(ctx, email)
		if err != nil {
			return nil, err
		}
		a.push(ctx, events.TypeEmail, map[string]any{
			"type":      "email",
			"direction": "sent",
			"to":        email.To,
			"subject":   email.Subject,
		})
		return res, nil
	case llm.ActionPayToAddress:
		if a.deps.Payments == nil {
			return nil, xerrors.New(CodeToolFailure, "payments tool is not configured")
		}
		var p tools.AddressPayment
		if err := tools.DecodePayload(d.Action, &p); err != nil {
			return nil, err
		}
		res, err := a.deps.Payments.SendToAddress(ctx, p)
		if err != nil {
			return nil, err
		}
		a.paymentEvent(ctx, map[string]any{"method": "address", "amount": p.Amount.String(), "memo": p.Memo, "to_address": p.ToAddress}, res)
		return res, nil
	case llm.ActionPayToEmail:
		if a.deps.Payments == nil {
			return nil, xerrors.New(CodeToolFailure, "payments tool is not configured")
		}
		var p tools.EmailPayment
		if err := tools.DecodePayload(d.Action, &p); err != nil {
			return nil, err
		}
		res, err := a.deps.Payments.SendToEmail(ctx, p)
		if err != nil {
			return nil, err
		}
		a.paymentEvent(ctx, map[string]any{"method": "email", "amount": p.Amount.String(), "memo": p.Memo, "email": p.Email}, res)
		return res, nil
	default:
		return tools.Result{
			"status": tools.StatusError,
			"code":   string(CodeUnknownAction),
			"error":  fmt.Sprintf("Unknown action type: %s", d.ActionType),
		}, nil
	}
}

func (a *Agent) paymentEvent(ctx context.Context, payload map[string]any, res tools.Result) {
	payload["type"] = "payment"
	payload["status"] = res.Status()
	a.push(ctx, events.TypePayment, payload)
	logger.Audit().Info("payment dispatched", "run_id", a.cfg.RunID, "method", payload["method"],
		"amount", payload["amount"], "status", res.Status())
}
