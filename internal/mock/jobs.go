package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

type handleRequest struct {
	Handle string `json:"handle"`
}

func (s *Server) jobCreate(c *gin.Context) {
	var job map[string]any
	if err := c.ShouldBindJSON(&job); err != nil {
		fail(c, "Invalid job")
		return
	}
	handle, _ := job["handle"].(string)
	if handle == "" {
		fail(c, "Job handle is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[handle]; ok {
		fail(c, "Job already exists")
		return
	}
	s.jobs[handle] = job
	c.JSON(http.StatusOK, job)
}

func (s *Server) jobDetail(c *gin.Context) {
	var req handleRequest
	_ = c.ShouldBindJSON(&req)

	job, ok := s.Job(req.Handle)
	if !ok {
		notFound(c, "Job not found")
		return
	}
	c.JSON(http.StatusOK, job)
}

// jobUpdate replaces the stored record. Writes are last-writer-wins.
func (s *Server) jobUpdate(c *gin.Context) {
	var job map[string]any
	if err := c.ShouldBindJSON(&job); err != nil {
		fail(c, "Invalid job")
		return
	}
	handle, _ := job["handle"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[handle]; !ok {
		notFound(c, "Job not found")
		return
	}
	s.jobs[handle] = job
	c.JSON(http.StatusOK, job)
}

func (s *Server) jobRemove(c *gin.Context) {
	var req handleRequest
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[req.Handle]; !ok {
		notFound(c, "Job not found")
		return
	}
	delete(s.jobs, req.Handle)
	c.JSON(http.StatusOK, gin.H{"success": "Job removed", "count": 1})
}

func (s *Server) jobContentExists(c *gin.Context) {
	var req struct {
		Handle string `json:"handle"`
		File   string `json:"file"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.RLock()
	exists := s.content[req.Handle][req.File]
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

func (s *Server) workerDetail(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.RLock()
	w, ok := s.workers[req.Name]
	s.mu.RUnlock()
	if !ok {
		notFound(c, "Worker not found")
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) workerAvailable(c *gin.Context) {
	s.mu.RLock()
	out := make([]Worker, 0, len(s.workers))
	for _, w := range s.workers {
		if w.Available && w.Active {
			out = append(out, w)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	c.JSON(http.StatusOK, out)
}

// ── Test helpers ─────────────────────────────────────────────────────────

// SeedJob stores job (any value encoding to a JSON object with a handle)
// as if it had been created through the API.
func (s *Server) SeedJob(job any) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	handle, _ := rec["handle"].(string)
	if handle == "" {
		return fmt.Errorf("job has no handle")
	}
	s.mu.Lock()
	s.jobs[handle] = rec
	s.mu.Unlock()
	return nil
}

// Job returns a copy of the stored record for handle.
func (s *Server) Job(handle string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[handle]
	if !ok {
		return nil, false
	}
	cp := make(map[string]any, len(rec))
	for k, v := range rec {
		cp[k] = v
	}
	return cp, true
}

// SetJobStatus advances a job the way a worker process would.
func (s *Server) SetJobStatus(handle, status string) bool {
	return s.setJobField(handle, "status", status)
}

// SetJobWorker assigns a worker to a job.
func (s *Server) SetJobWorker(handle, worker string) bool {
	return s.setJobField(handle, "worker", worker)
}

func (s *Server) setJobField(handle, field string, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[handle]
	if !ok {
		return false
	}
	rec[field] = v
	return true
}

// AddWorker registers a worker in the directory.
func (s *Server) AddWorker(w Worker) {
	s.mu.Lock()
	s.workers[w.Name] = w
	s.mu.Unlock()
}

// AddContent marks file as produced by the job with handle.
func (s *Server) AddContent(handle, file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.content[handle] == nil {
		s.content[handle] = make(map[string]bool)
	}
	s.content[handle][file] = true
}
