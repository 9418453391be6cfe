package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
)

func TestAdapterStatus_Transitions(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewAdapterStatus()
	s.now = func() time.Time { return now }

	assert.Equal(t, HealthUnknown, s.Get("cargo").State)

	recovered, _ := s.RecordSuccess("cargo")
	assert.False(t, recovered, "first success is not a recovery")

	assert.True(t, s.RecordFailure("cargo", core.FailureTimeout, "timed out"))
	assert.False(t, s.RecordFailure("cargo", core.FailureTimeout, "timed out again"))
	assert.True(t, s.RecordFailure("cargo", core.FailureNonZeroExit, "exit 2"))

	h := s.Get("cargo")
	assert.Equal(t, HealthFailing, h.State)
	assert.Equal(t, core.FailureNonZeroExit, h.Failure)
	assert.Equal(t, "exit 2", h.Message)
	assert.Equal(t, now, h.Since)

	now = now.Add(90 * time.Second)
	recovered, failingFor := s.RecordSuccess("cargo")
	assert.True(t, recovered)
	assert.Equal(t, 90*time.Second, failingFor)

	h = s.Get("cargo")
	assert.Equal(t, HealthOK, h.State)
	assert.Empty(t, h.Message)
	assert.Equal(t, now, h.LastSuccess)
}

func TestAdapterStatus_AllAndFailing(t *testing.T) {
	s := NewAdapterStatus()
	s.RecordSuccess("vitest")
	s.RecordFailure("cargo", core.FailureSpawn, "not found")
	s.RecordSuccess("deno")

	all := s.All()
	assert.Len(t, all, 3)
	assert.Equal(t, "cargo", all[0].Adapter)
	assert.Equal(t, "deno", all[1].Adapter)

	failing := s.Failing()
	assert.Len(t, failing, 1)
	assert.Equal(t, "cargo", failing[0].Adapter)

	s.Forget("cargo")
	assert.Empty(t, s.Failing())
}
