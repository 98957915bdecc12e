package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/examdesk/internal/model"
)

type countingLoader struct {
	mu    sync.Mutex
	exams map[model.ExamKey]*model.Exam
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (l *countingLoader) ActiveExam(_ context.Context, grade string, variant model.Variant) (*model.Exam, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.exams[model.ExamKey{Grade: grade, Variant: variant}]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (l *countingLoader) put(e model.Exam) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exams[model.ExamKey{Grade: e.Grade, Variant: e.Variant}] = &e
}

func sampleExam() model.Exam {
	return model.Exam{
		ID:      "exam-10-a",
		Grade:   "10",
		Variant: model.VariantA,
		Active:  true,
		Content: model.ExamContent{
			MCQ: []model.MCQItem{{Q: "2+2", Options: model.Options{A: "4", B: "5", C: "6", D: "7"}}},
		},
		Key: model.AnswerKey{MCQKey: map[string]string{"1": "A"}},
	}
}

func newTestCache(t *testing.T, loader ExamLoader, ttl time.Duration) (*ExamCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, loader, ttl), mr
}

func TestExamCacheHit(t *testing.T) {
	loader := &countingLoader{exams: map[model.ExamKey]*model.Exam{}}
	loader.put(sampleExam())
	c, mr := newTestCache(t, loader, time.Minute)
	ctx := context.Background()

	e, err := c.ActiveExam(ctx, "10", model.VariantA)
	if err != nil {
		t.Fatalf("ActiveExam: %v", err)
	}
	if e == nil || e.ID != "exam-10-a" {
		t.Fatalf("ActiveExam = %+v", e)
	}
	if !mr.Exists("exam:10:A") {
		t.Fatal("expected exam to be cached")
	}

	e, err = c.ActiveExam(ctx, "10", model.VariantA)
	if err != nil {
		t.Fatalf("ActiveExam: %v", err)
	}
	if e.Key.MCQKey["1"] != "A" {
		t.Errorf("cached exam lost its key: %+v", e)
	}
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("expected loader called once, got %d", n)
	}
}

func TestExamCacheTTL(t *testing.T) {
	loader := &countingLoader{exams: map[model.ExamKey]*model.Exam{}}
	loader.put(sampleExam())
	c, mr := newTestCache(t, loader, time.Minute)

	if _, err := c.ActiveExam(context.Background(), "10", model.VariantA); err != nil {
		t.Fatalf("ActiveExam: %v", err)
	}
	ttl := mr.TTL("exam:10:A")
	if ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Errorf("TTL = %v, want within 10%% jitter of 1m", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists("exam:10:A") {
		t.Error("entry should have expired")
	}
	if _, err := c.ActiveExam(context.Background(), "10", model.VariantA); err != nil {
		t.Fatalf("ActiveExam: %v", err)
	}
	if n := loader.calls.Load(); n != 2 {
		t.Errorf("expected reload after expiry, loader calls=%d", n)
	}
}

func TestExamCacheMissIsNotCached(t *testing.T) {
	loader := &countingLoader{exams: map[model.ExamKey]*model.Exam{}}
	c, mr := newTestCache(t, loader, time.Minute)
	ctx := context.Background()

	e, err := c.ActiveExam(ctx, "11", model.VariantB)
	if err != nil || e != nil {
		t.Fatalf("ActiveExam = %+v, %v", e, err)
	}
	if mr.Exists("exam:11:B") {
		t.Error("absent exam should not be cached")
	}

	ex := sampleExam()
	ex.Grade, ex.Variant = "11", model.VariantB
	loader.put(ex)
	e, err = c.ActiveExam(ctx, "11", model.VariantB)
	if err != nil || e == nil {
		t.Fatalf("ActiveExam after create = %+v, %v", e, err)
	}
}

func TestExamCacheInvalidate(t *testing.T) {
	loader := &countingLoader{exams: map[model.ExamKey]*model.Exam{}}
	loader.put(sampleExam())
	c, _ := newTestCache(t, loader, time.Minute)
	ctx := context.Background()

	if _, err := c.ActiveExam(ctx, "10", model.VariantA); err != nil {
		t.Fatalf("ActiveExam: %v", err)
	}
	changed := sampleExam()
	changed.Key.MCQKey = map[string]string{"1": "D"}
	loader.put(changed)

	if err := c.Invalidate(ctx, "10", model.VariantA); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	e, err := c.ActiveExam(ctx, "10", model.VariantA)
	if err != nil {
		t.Fatalf("ActiveExam: %v", err)
	}
	if e.Key.MCQKey["1"] != "D" {
		t.Errorf("expected fresh key after invalidate, got %v", e.Key.MCQKey)
	}
}

func TestExamCacheSingleflight(t *testing.T) {
	loader := &countingLoader{exams: map[model.ExamKey]*model.Exam{}, delay: 50 * time.Millisecond}
	loader.put(sampleExam())
	c, _ := newTestCache(t, loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.ActiveExam(context.Background(), "10", model.VariantA); err != nil {
				t.Errorf("ActiveExam: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := loader.calls.Load(); n != 1 {
		t.Errorf("expected one load for concurrent misses, got %d", n)
	}
}

func TestExamCacheFallsBackWhenRedisIsDown(t *testing.T) {
	loader := &countingLoader{exams: map[model.ExamKey]*model.Exam{}}
	loader.put(sampleExam())
	c, mr := newTestCache(t, loader, time.Minute)
	mr.Close()

	e, err := c.ActiveExam(context.Background(), "10", model.VariantA)
	if err != nil {
		t.Fatalf("ActiveExam: %v", err)
	}
	if e == nil || e.ID != "exam-10-a" {
		t.Errorf("ActiveExam = %+v", e)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Ping should fail when redis is down")
	}
}

func TestExamCacheLoaderError(t *testing.T) {
	loader := &countingLoader{exams: map[model.ExamKey]*model.Exam{}, err: errors.New("store down")}
	c, _ := newTestCache(t, loader, time.Minute)

	if _, err := c.ActiveExam(context.Background(), "10", model.VariantA); err == nil {
		t.Fatal("expected loader error")
	}
}

// gatedLoader blocks each load until release is closed.
type gatedLoader struct {
	countingLoader
	entered chan struct{}
	release chan struct{}
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{
		countingLoader: countingLoader{exams: map[model.ExamKey]*model.Exam{}},
		entered:        make(chan struct{}, 1),
		release:        make(chan struct{}),
	}
}

func (l *gatedLoader) ActiveExam(ctx context.Context, grade string, variant model.Variant) (*model.Exam, error) {
	// Read before blocking, like a query that ran before a concurrent write.
	e, err := l.countingLoader.ActiveExam(ctx, grade, variant)
	l.entered <- struct{}{}
	<-l.release
	return e, err
}

func TestExamCacheInvalidateDuringLoad(t *testing.T) {
	loader := newGatedLoader()
	loader.put(sampleExam())
	c, mr := newTestCache(t, loader, time.Minute)
	ctx := context.Background()

	done := make(chan *model.Exam)
	go func() {
		e, err := c.ActiveExam(ctx, "10", model.VariantA)
		if err != nil {
			t.Errorf("ActiveExam: %v", err)
		}
		done <- e
	}()
	<-loader.entered

	changed := sampleExam()
	changed.Key.MCQKey = map[string]string{"1": "D"}
	loader.put(changed)
	if err := c.Invalidate(ctx, "10", model.VariantA); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	close(loader.release)

	if e := <-done; e == nil || e.Key.MCQKey["1"] != "A" {
		t.Fatalf("in-flight load = %+v, want the exam it read", e)
	}
	if mr.Exists("exam:10:A") {
		t.Fatal("a load that raced an invalidation must not be cached")
	}

	e, err := c.ActiveExam(ctx, "10", model.VariantA)
	if err != nil {
		t.Fatalf("ActiveExam: %v", err)
	}
	if e.Key.MCQKey["1"] != "D" {
		t.Errorf("expected fresh key, got %v", e.Key.MCQKey)
	}
	if !mr.Exists("exam:10:A") {
		t.Error("a load after the invalidation should be cached")
	}
}

func TestExamCacheLoadOutlivesCanceledCaller(t *testing.T) {
	loader := newGatedLoader()
	loader.put(sampleExam())
	c, _ := newTestCache(t, loader, time.Minute)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error)
	go func() {
		_, err := c.ActiveExam(first, "10", model.VariantA)
		firstErr <- err
	}()
	<-loader.entered

	second := make(chan *model.Exam)
	go func() {
		e, err := c.ActiveExam(context.Background(), "10", model.VariantA)
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- e
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("canceled caller got %v, want context.Canceled", err)
	}
	close(loader.release)
	if e := <-second; e == nil || e.ID != "exam-10-a" {
		t.Errorf("second caller got %+v", e)
	}
}
