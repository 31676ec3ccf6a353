// Package welcome is a minimal workflow definition used to exercise the
// engine end-to-end from cmd/worker: it runs a step, sleeps, then invokes
// a second workflow and waits on its result. It is example wiring, not
// part of the engine itself.
package welcome

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowkit/durable/internal/workflow"
)

// Input is the job payload for the welcome workflow.
type Input struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func schema(raw json.RawMessage) (Input, error) {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return Input{}, fmt.Errorf("welcome: invalid payload: %w", err)
	}
	if in.UserID == "" {
		return Input{}, fmt.Errorf("welcome: userId is required")
	}
	return in, nil
}

// Register attaches the welcome and notify workflows to client.
func Register(client *workflow.Client) (*workflow.Workflow[Input], *workflow.Workflow[NotifyInput], error) {
	notify, err := workflow.Register(client, workflow.Definition[NotifyInput]{
		ID:     "welcome.notify",
		Schema: workflow.SchemaFunc[NotifyInput](notifySchema),
		Fn:     runNotify,
	})
	if err != nil {
		return nil, nil, err
	}

	w, err := workflow.Register(client, workflow.Definition[Input]{
		ID:     "welcome.onboard",
		Schema: workflow.SchemaFunc[Input](schema),
		Fn: func(ctx *workflow.ExecutionContext, job workflow.Job, data Input) (any, error) {
			if _, err := ctx.Run("create-profile", func() (any, error) {
				return map[string]any{"userId": data.UserID, "created": true}, nil
			}); err != nil {
				return nil, err
			}

			if _, err := ctx.Sleep("cooldown", 24*time.Hour); err != nil {
				return nil, err
			}

			res, err := workflow.InvokeWorkflow(ctx, notify, "send-welcome-email", NotifyInput{
				UserID: data.UserID,
				Email:  data.Email,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"userId": data.UserID, "notified": res.Result}, nil
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return w, notify, nil
}

// NotifyInput is the payload of the welcome.notify workflow invoked by
// welcome.onboard.
type NotifyInput struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func notifySchema(raw json.RawMessage) (NotifyInput, error) {
	var in NotifyInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return NotifyInput{}, err
	}
	return in, nil
}

func runNotify(ctx *workflow.ExecutionContext, job workflow.Job, data NotifyInput) (any, error) {
	_, err := ctx.Run("send-email", func() (any, error) {
		return map[string]any{"sentTo": data.Email}, nil
	})
	if err != nil {
		return nil, err
	}
	return true, nil
}
