package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"studio/config"
)

const (
	softKillGrace    = 5 * time.Second
	shutdownKillWait = 3 * time.Second
)

// SpawnParams carries everything needed to launch one agent subprocess
type SpawnParams struct {
	ConversationID string
	ReplyID        string
	UserID         string
	Query          string
	Mode           string
}

// ProcessInfo is a point-in-time view of one live agent, for the status page
type ProcessInfo struct {
	ReplyID        string
	ConversationID string
	PID            int
	StartedAt      time.Time
}

type process struct {
	cmd            *exec.Cmd
	conversationID string
	startedAt      time.Time
}

// Supervisor spawns and tracks agent subprocesses. Each child's stdio goes to
// a per-conversation log file; its channel back to the orchestrator is the
// HTTP callback, not pipes. The exit watcher is the only goroutine that
// removes entries from the process map.
type Supervisor struct {
	cfg    *config.Config
	onExit func(replyID string, exitErr error)

	mu             sync.Mutex
	procs          map[string]*process
	byConversation map[string]map[string]struct{}
}

// NewSupervisor creates a supervisor. onExit fires after a child exits and
// its bookkeeping has been removed.
func NewSupervisor(cfg *config.Config, onExit func(replyID string, exitErr error)) *Supervisor {
	return &Supervisor{
		cfg:            cfg,
		onExit:         onExit,
		procs:          make(map[string]*process),
		byConversation: make(map[string]map[string]struct{}),
	}
}

// Spawn forks the agent executable for one reply and returns its pid.
// The child receives all parameters as CLI flags and reports back over HTTP.
func (s *Supervisor) Spawn(params SpawnParams) (int, error) {
	logPath := filepath.Join(s.cfg.LogsDir, fmt.Sprintf("agent_%s.log", params.ConversationID))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, serr.Wrap(err, "failed to open agent log file")
	}

	args := []string{
		"--query", params.Query,
		"--llmProvider", s.cfg.Model.Provider,
		"--modelName", s.cfg.Model.Name,
		"--apiKey", s.cfg.Model.APIKey,
		"--workspace", s.cfg.Agent.Workspace,
		"--conversation_id", params.ConversationID,
		"--reply_id", params.ReplyID,
		"--studio_url", s.cfg.StudioURL,
		"--mode", params.Mode,
	}

	cmd := exec.Command(s.cfg.Agent.Command, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return 0, serr.Wrap(err, "failed to start agent process")
	}

	pid := cmd.Process.Pid

	s.mu.Lock()
	s.procs[params.ReplyID] = &process{
		cmd:            cmd,
		conversationID: params.ConversationID,
		startedAt:      time.Now(),
	}
	replies, ok := s.byConversation[params.ConversationID]
	if !ok {
		replies = make(map[string]struct{})
		s.byConversation[params.ConversationID] = replies
	}
	replies[params.ReplyID] = struct{}{}
	s.mu.Unlock()

	logger.Info("Spawned agent process",
		"reply_id", params.ReplyID, "conversation_id", params.ConversationID, "pid", pid)

	go s.watch(params.ReplyID, cmd, logFile)

	return pid, nil
}

func (s *Supervisor) watch(replyID string, cmd *exec.Cmd, logFile *os.File) {
	exitErr := cmd.Wait()
	logFile.Close()

	s.remove(replyID)

	if exitErr != nil {
		logger.Debug("Agent process exited with error", "reply_id", replyID, "error", exitErr.Error())
	}
	if s.onExit != nil {
		s.onExit(replyID, exitErr)
	}
}

func (s *Supervisor) remove(replyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proc, ok := s.procs[replyID]
	if !ok {
		return
	}
	delete(s.procs, replyID)

	if replies, ok := s.byConversation[proc.conversationID]; ok {
		delete(replies, replyID)
		if len(replies) == 0 {
			delete(s.byConversation, proc.conversationID)
		}
	}
}

// Terminate soft-kills the reply's child and schedules a hard kill after the
// grace period. Returns false if no live child exists. Idempotent from the
// caller's view: a second call finds nothing to kill.
func (s *Supervisor) Terminate(replyID string) bool {
	s.mu.Lock()
	proc, ok := s.procs[replyID]
	s.mu.Unlock()

	if !ok {
		return false
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("SIGTERM failed, process likely gone", "reply_id", replyID, "error", err.Error())
	}

	go func() {
		time.Sleep(softKillGrace)
		s.mu.Lock()
		live, ok := s.procs[replyID]
		s.mu.Unlock()
		if ok && live == proc {
			logger.Warn("Agent ignored SIGTERM, hard killing", "reply_id", replyID)
			_ = proc.cmd.Process.Kill()
		}
	}()

	return true
}

// IsRunning reports whether a live child exists for the reply
func (s *Supervisor) IsRunning(replyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[replyID]
	return ok
}

// ActiveReplies returns the reply ids with a live child for a conversation
func (s *Supervisor) ActiveReplies(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id := range s.byConversation[conversationID] {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot lists all live agent processes
func (s *Supervisor) Snapshot() []ProcessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ProcessInfo, 0, len(s.procs))
	for replyID, proc := range s.procs {
		infos = append(infos, ProcessInfo{
			ReplyID:        replyID,
			ConversationID: proc.conversationID,
			PID:            proc.cmd.Process.Pid,
			StartedAt:      proc.startedAt,
		})
	}
	return infos
}

// Cleanup terminates every live child on shutdown: SIGTERM to all, then a
// bounded wait, then SIGKILL for stragglers.
func (s *Supervisor) Cleanup() {
	s.mu.Lock()
	remaining := make(map[string]*process, len(s.procs))
	for id, proc := range s.procs {
		remaining[id] = proc
	}
	s.mu.Unlock()

	if len(remaining) == 0 {
		return
	}

	logger.Info("Terminating live agent processes", "count", len(remaining))
	for id, proc := range remaining {
		if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Debug("SIGTERM failed during cleanup", "reply_id", id, "error", err.Error())
		}
	}

	deadline := time.Now().Add(shutdownKillWait)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		live := len(s.procs)
		s.mu.Unlock()
		if live == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	s.mu.Lock()
	stragglers := make([]*process, 0, len(s.procs))
	for _, proc := range s.procs {
		stragglers = append(stragglers, proc)
	}
	s.mu.Unlock()

	for _, proc := range stragglers {
		_ = proc.cmd.Process.Kill()
	}
}
