package scheduler

// Snapshot returns detached engine-level state for diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.lifeMu.Lock()
	sup := s.sup
	s.lifeMu.Unlock()

	tasks := s.GetStatuses()
	running := 0
	for _, t := range tasks {
		if t.State == StateRunning {
			running++
		}
	}

	snap := Snapshot{
		Started:      s.IsStarted(),
		ShutDown:     s.IsShutDown(),
		PollInterval: s.cfg.PollInterval,
		Running:      running,
		Tasks:        tasks,
		Engine:       s.exec.Snapshot(),
	}
	if sup != nil {
		snap.Loop = sup.Snapshot()
	}
	return snap
}
