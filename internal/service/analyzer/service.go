// Package analyzer is the slow path. It consumes inbound messages off the
// critical path, judges tone and severity, persists the artifacts, and
// hands high/critical events to the escalation dispatcher. It never shares
// a failure domain with the fast path: a crash here is logged, not
// surfaced.
package analyzer

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/converso-ai/converso/backend/internal/analysis/sentiment"
	analysismodel "github.com/converso-ai/converso/backend/internal/model/analysis"
	"github.com/converso-ai/converso/backend/internal/model/chat"
	"github.com/converso-ai/converso/backend/internal/service/escalation"
	"github.com/converso-ai/converso/backend/internal/store"
)

// Classifier is the slice of the gateway the analyzer needs.
type Classifier interface {
	Enabled() bool
	ClassifySentiment(ctx context.Context, history []chat.Message, text string) (Classification, error)
}

// Classification mirrors the gateway's structured judgment.
type Classification struct {
	Label           string
	Intensity       float64
	Category        string
	Blocking        bool
	SuggestedAction string
	Reason          string
}

// Task is one accepted unit of analysis. Once accepted it always
// completes, even if the originating session closes. Context carries the
// conversation as it stood when the message arrived; the gateway folds it
// into the classification prompt.
type Task struct {
	Message         chat.Message
	Context         []chat.Message
	ColaboradorName string
}

// Config tunes the analyzer.
type Config struct {
	Workers             int
	QueueSize           int
	AnnotationThreshold float64
	HighThreshold       float64
	CriticalThreshold   float64
	PersistAttempts     int
	PersistRetryDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.AnnotationThreshold <= 0 {
		c.AnnotationThreshold = 0.5
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = 0.6
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 0.75
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 3
	}
	if c.PersistRetryDelay <= 0 {
		c.PersistRetryDelay = 200 * time.Millisecond
	}
	return c
}

// SentimentFunc observes each completed sentiment record, letting the
// router attach the latest label to subsequent replies.
type SentimentFunc func(userID, tenantID string, label analysismodel.Label, intensity float64)

// Service owns the task queue and worker pool.
type Service struct {
	classifier  Classifier
	store       store.AnalysisStore
	dispatcher  *escalation.Dispatcher
	cfg         Config
	onSentiment SentimentFunc

	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option adjusts the service.
type Option func(*Service)

// WithSentimentObserver registers the completed-record callback.
func WithSentimentObserver(fn SentimentFunc) Option {
	return func(s *Service) { s.onSentiment = fn }
}

// NewService wires the analyzer.
func NewService(classifier Classifier, analysisStore store.AnalysisStore, dispatcher *escalation.Dispatcher, cfg Config, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		classifier: classifier,
		store:      analysisStore,
		dispatcher: dispatcher,
		cfg:        cfg,
		tasks:      make(chan Task, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker pool.
func (s *Service) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Close stops accepting tasks and waits for in-flight work. Accepted tasks
// always run to completion.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.tasks)
	s.mu.Unlock()
	s.wg.Wait()
}

// Enqueue accepts a message for analysis. It reports false when the queue
// is full or closed; the caller logs and moves on, never blocks.
func (s *Service) Enqueue(task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.tasks <- task:
		return true
	default:
		log.Printf("[analyzer] queue full, dropping message=%s", task.Message.ID)
		return false
	}
}

func (s *Service) worker() {
	defer s.wg.Done()
	for task := range s.tasks {
		// Detached context: analysis completes even after the session
		// or server context winds down.
		s.process(context.Background(), task)
	}
}

func (s *Service) process(ctx context.Context, task Task) {
	msg := task.Message
	heuristic := sentiment.Classify(msg.Content)

	label := heuristic.Label
	intensity := heuristic.Intensity
	category := categorize(heuristic)
	blocking := heuristic.Blocking
	suggestedAction := ""

	if s.classifier != nil && s.classifier.Enabled() {
		judged, err := s.classifier.ClassifySentiment(ctx, task.Context, msg.Content)
		if err != nil {
			log.Printf("[analyzer] gateway classification failed, using heuristic: %v", err)
		} else if parsed, ok := analysismodel.ParseLabel(judged.Label); ok {
			label = parsed
			intensity = judged.Intensity
			blocking = blocking || judged.Blocking
			suggestedAction = judged.SuggestedAction
			if judged.Category != "" {
				category = judged.Category
			}
		} else {
			log.Printf("[analyzer] gateway returned unknown label %q, using heuristic", judged.Label)
		}
	}

	record := analysismodel.SentimentRecord{
		ID:              uuid.NewString(),
		UserID:          msg.UserID,
		TenantID:        msg.TenantID,
		Label:           label,
		Intensity:       intensity,
		SourceMessageID: msg.ID,
		CreatedAt:       time.Now().UTC(),
	}

	inserted, err := s.insertRecordWithRetry(ctx, record)
	if err != nil {
		log.Printf("[analyzer] sentiment record lost for message=%s: %v", msg.ID, err)
		return
	}
	if !inserted {
		// Duplicate delivery of the same message id; everything
		// downstream already exists.
		return
	}

	if s.onSentiment != nil {
		s.onSentiment(msg.UserID, msg.TenantID, label, intensity)
	}

	if !s.noteworthy(label, intensity, heuristic) {
		return
	}

	ann := analysismodel.Annotation{
		ID:              uuid.NewString(),
		TenantID:        msg.TenantID,
		UserID:          msg.UserID,
		SourceMessageID: msg.ID,
		Kind:            annotationKind(heuristic),
		Title:           annotationTitle(category, task.ColaboradorName),
		Body:            msg.Content,
		Label:           label,
		Intensity:       intensity,
		Tags:            annotationTags(category, heuristic),
		Relevant:        true,
		CreatedAt:       time.Now().UTC(),
	}
	annInserted, err := s.store.InsertAnnotation(ctx, ann)
	if err != nil {
		log.Printf("[analyzer] annotation persist failed for message=%s: %v", msg.ID, err)
		return
	}
	if !annInserted {
		return
	}

	level := s.urgencyLevel(label, intensity, blocking, heuristic.Escalation)
	if level == analysismodel.LevelNormal {
		return
	}

	if suggestedAction == "" {
		suggestedAction = defaultSuggestedAction(level, category)
	}
	event := analysismodel.UrgencyEvent{
		ID:              uuid.NewString(),
		AnnotationID:    ann.ID,
		Level:           level,
		Category:        category,
		SuggestedAction: suggestedAction,
		CreatedAt:       time.Now().UTC(),
	}
	evInserted, err := s.store.InsertUrgencyEvent(ctx, event)
	if err != nil {
		// A missed critical escalation is a safety issue.
		log.Printf("[analyzer] ALERT: urgency event persist failed for annotation=%s level=%s: %v", ann.ID, level, err)
		return
	}
	if !evInserted {
		return
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, event, ann, task.ColaboradorName)
	}
}

func (s *Service) insertRecordWithRetry(ctx context.Context, rec analysismodel.SentimentRecord) (bool, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.PersistAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * s.cfg.PersistRetryDelay)
		}
		inserted, err := s.store.InsertSentimentRecord(ctx, rec)
		if err == nil {
			return inserted, nil
		}
		lastErr = err
	}
	return false, lastErr
}

// noteworthy decides whether the message earns an Annotation: strong
// negative sentiment, or a problem report regardless of label.
func (s *Service) noteworthy(label analysismodel.Label, intensity float64, heuristic sentiment.Result) bool {
	if heuristic.ProblemReport {
		return true
	}
	if label != analysismodel.Negative && label != analysismodel.VeryNegative {
		return false
	}
	return intensity >= s.cfg.AnnotationThreshold
}

func (s *Service) urgencyLevel(label analysismodel.Label, intensity float64, blocking, escalationKeyword bool) analysismodel.Level {
	if blocking && label == analysismodel.VeryNegative && intensity >= s.cfg.CriticalThreshold {
		return analysismodel.LevelCritical
	}
	negative := label == analysismodel.Negative || label == analysismodel.VeryNegative
	if (negative && intensity >= s.cfg.HighThreshold) || escalationKeyword {
		return analysismodel.LevelHigh
	}
	return analysismodel.LevelNormal
}

func categorize(result sentiment.Result) string {
	switch {
	case result.Blocking:
		return "acesso"
	case result.ProblemReport:
		return "problema"
	case result.Label == analysismodel.Positive || result.Label == analysismodel.VeryPositive:
		return "elogio"
	default:
		return "geral"
	}
}

func annotationKind(result sentiment.Result) string {
	if result.ProblemReport {
		return "problem_report"
	}
	return "strong_sentiment"
}

func annotationTitle(category, colaborador string) string {
	name := strings.TrimSpace(colaborador)
	if name == "" {
		name = "Colaborador"
	}
	return name + " relatou: " + category
}

func annotationTags(category string, result sentiment.Result) []string {
	tags := []string{category}
	if result.Escalation {
		tags = append(tags, "urgente")
	}
	if result.Blocking {
		tags = append(tags, "bloqueante")
	}
	return tags
}

func defaultSuggestedAction(level analysismodel.Level, category string) string {
	if level == analysismodel.LevelCritical {
		return "Acionar um atendente humano imediatamente (" + category + ")."
	}
	return "Priorizar acompanhamento do caso (" + category + ")."
}
