package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jobmill/jobmill/internal/domain/model"
)

const defaultRunJobTimeout = 2 * time.Minute

// runJobOptions drives a manual run through the server so the scheduler's
// overlap guard and dispatch path still apply.
type runJobOptions struct {
	JobID   string
	Server  string
	Token   string
	Actor   string
	Force   bool
	Timeout time.Duration
}

func runRunJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseRunJobFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	outcome, status, err := postManualRun(ctx, opts)
	if err != nil {
		return err
	}

	if status == http.StatusNoContent || outcome == nil {
		return writeln(os.Stdout, "Run accepted; no synchronous outcome reported.")
	}
	return printOutcome(outcome)
}

func postManualRun(ctx context.Context, opts runJobOptions) (*model.ExecutionOutcome, int, error) {
	endpoint, err := url.JoinPath(opts.Server, "api", "jobs", opts.JobID, "run")
	if err != nil {
		return nil, 0, fmt.Errorf("build run URL: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"actor": opts.Actor,
		"force": opts.Force,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, resp.StatusCode, nil
	case http.StatusOK:
		var outcome model.ExecutionOutcome
		if decodeErr := json.NewDecoder(resp.Body).Decode(&outcome); decodeErr != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode run response: %w", decodeErr)
		}
		return &outcome, resp.StatusCode, nil
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, resp.StatusCode, fmt.Errorf(
			"server responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}

func printOutcome(outcome *model.ExecutionOutcome) error {
	if err := writef(os.Stdout, "Execution %s finished with status %s\n", outcome.ExecutionID, outcome.Status); err != nil {
		return fmt.Errorf("print outcome: %w", err)
	}
	if outcome.ReturnCode != nil {
		if err := writef(os.Stdout, "Return code: %d\n", *outcome.ReturnCode); err != nil {
			return fmt.Errorf("print return code: %w", err)
		}
	}
	if outcome.Error != "" {
		if err := writef(os.Stdout, "Error: %s\n", outcome.Error); err != nil {
			return fmt.Errorf("print outcome error: %w", err)
		}
	}
	if outcome.Output != "" {
		if err := writef(os.Stdout, "Output:\n%s\n", outcome.Output); err != nil {
			return fmt.Errorf("print outcome output: %w", err)
		}
	}
	return nil
}

func parseRunJobFlags(args []string) (runJobOptions, error) {
	fs := flag.NewFlagSet("run-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := runJobOptions{
		Server:  "http://localhost:8080",
		Timeout: defaultRunJobTimeout,
	}
	fs.StringVar(&opts.JobID, "job-id", "", "Job to run")
	fs.StringVar(&opts.Server, "server", opts.Server, "Base URL of the jobmill server")
	fs.StringVar(&opts.Token, "token", "", "Bearer token for servers with auth enabled")
	fs.StringVar(&opts.Actor, "actor", "jobmill-admin", "Actor recorded on the execution")
	fs.BoolVar(&opts.Force, "force", false, "Run even when another execution of the job is live")
	fs.DurationVar(&opts.Timeout, "timeout", defaultRunJobTimeout, "Maximum duration to wait for the run to finish")

	if err := fs.Parse(args); err != nil {
		return runJobOptions{}, err
	}
	if opts.JobID == "" {
		return runJobOptions{}, errors.New("--job-id is required")
	}
	if _, err := url.ParseRequestURI(opts.Server); err != nil {
		return runJobOptions{}, fmt.Errorf("--server must be a valid URL: %w", err)
	}
	if opts.Timeout <= 0 {
		return runJobOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}
