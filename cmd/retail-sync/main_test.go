package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/withObsrvr/retail-sync/internal/pipeline"
	"github.com/withObsrvr/retail-sync/internal/source"
)

func TestAsExit(t *testing.T) {
	tests := []struct {
		name string
		res  *pipeline.Result
		err  error
		want int // -1 means no error
	}{
		{"unchanged", &pipeline.Result{Outcome: pipeline.OutcomeUnchanged}, nil, -1},
		{"busy", &pipeline.Result{Outcome: pipeline.OutcomeBusy}, nil, -1},
		{"updated", &pipeline.Result{Outcome: pipeline.OutcomeUpdated}, nil, pipeline.ExitUpdated},
		{"auth", &pipeline.Result{Outcome: pipeline.OutcomeFailed}, fmt.Errorf("fetch: %w", source.ErrAuth), pipeline.ExitFetch},
		{"setup failure", nil, errors.New("boom"), pipeline.ExitInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := asExit(tt.res, tt.err)
			if tt.want < 0 {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			var ee *exitError
			if !errors.As(err, &ee) {
				t.Fatalf("expected exitError, got %v", err)
			}
			if ee.code != tt.want {
				t.Errorf("code = %d, want %d", ee.code, tt.want)
			}
		})
	}
}

func TestNormalizeCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"normalize", "https://www.dropbox.com/s/abc/export.xlsx?dl=0"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(out.String(), "dl=1") {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), pipeline.ProducerName+" ") {
		t.Errorf("unexpected output: %q", out.String())
	}
}
