// Package observability provides an S3 callback for archiving a debugging
// trace of messages and responses.
package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config contains configuration for S3 archival.
type S3Config struct {
	BucketName    string        // S3 bucket name
	Region        string        // AWS region
	AccessKeyID   string        // AWS access key (optional, uses default credentials if empty)
	SecretKey     string        // AWS secret key (optional)
	Endpoint      string        // Custom S3 endpoint (for MinIO, etc.)
	PathPrefix    string        // Prefix for S3 keys (e.g., "transport-core/traces")
	FlushInterval time.Duration // Flush interval for batching
	BatchSize     int           // Max batch size before flush
	Filter        *ContentFilter
}

// DefaultS3Config returns default configuration from environment.
func DefaultS3Config() S3Config {
	return S3Config{
		BucketName:    os.Getenv("S3_BUCKET_NAME"),
		Region:        os.Getenv("AWS_REGION"),
		AccessKeyID:   os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Endpoint:      os.Getenv("S3_ENDPOINT"),
		PathPrefix:    os.Getenv("S3_PATH_PREFIX"),
		FlushInterval: 10 * time.Second,
		BatchSize:     100,
		Filter:        DefaultContentFilter(),
	}
}

// S3LogEntry is a single archived message/response trace record.
type S3LogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Transport     string    `json:"transport"`
	MessageID     string    `json:"message_id,omitempty"`
	MessageType   string    `json:"message_type,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Payload       any       `json:"payload,omitempty"`
	Success       bool      `json:"success"`
	ResponseError string    `json:"response_error,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// S3Callback implements Callback by archiving EventMessage traces as
// batched JSONL objects in S3.
type S3Callback struct {
	config   S3Config
	client   *s3.Client
	logQueue []S3LogEntry
	mu       sync.Mutex
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewS3Callback creates a new S3 archival callback.
func NewS3Callback(cfg S3Config) (*S3Callback, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("s3: bucket_name is required")
	}
	if cfg.Filter == nil {
		cfg.Filter = DefaultContentFilter()
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	cb := &S3Callback{
		config:   cfg,
		client:   s3.NewFromConfig(awsCfg, s3Opts...),
		logQueue: make([]S3LogEntry, 0, cfg.BatchSize),
		stopCh:   make(chan struct{}),
	}

	cb.wg.Add(1)
	go cb.flushLoop()

	return cb, nil
}

// Name returns the callback name.
func (s *S3Callback) Name() string {
	return "s3"
}

// OnEvent archives message traces; all other event types are ignored.
func (s *S3Callback) OnEvent(ctx context.Context, evt Event) error {
	if evt.Type != EventMessage || evt.Message == nil {
		return nil
	}

	entry := S3LogEntry{
		Timestamp:     evt.Timestamp,
		Transport:     string(evt.Transport),
		MessageID:     evt.Message.ID,
		MessageType:   string(evt.Message.Type),
		CorrelationID: evt.Message.CorrelationID,
		Payload:       s.config.Filter.FilterValue(evt.Message.Payload),
	}
	if evt.Response != nil {
		entry.Success = evt.Response.Success
		entry.ResponseError = evt.Response.Error
	}
	if evt.Err != nil {
		entry.Error = evt.Err.Error()
	}

	s.enqueue(entry)
	return nil
}

// Shutdown flushes remaining logs and stops the background flush loop.
func (s *S3Callback) Shutdown(ctx context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	return s.flush(ctx)
}

func (s *S3Callback) enqueue(entry S3LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logQueue = append(s.logQueue, entry)

	if len(s.logQueue) >= s.config.BatchSize {
		go s.flush(context.Background())
	}
}

func (s *S3Callback) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

func (s *S3Callback) flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.logQueue) == 0 {
		s.mu.Unlock()
		return nil
	}

	entries := s.logQueue
	s.logQueue = make([]S3LogEntry, 0, s.config.BatchSize)
	s.mu.Unlock()

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			continue
		}
	}

	key := s.generateKey(time.Now().UTC())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3: failed to upload trace: %w", err)
	}
	return nil
}

// generateKey generates a date-partitioned S3 key:
// prefix/year=YYYY/month=MM/day=DD/hour=HH/trace_<nanos>.jsonl
func (s *S3Callback) generateKey(t time.Time) string {
	datePrefix := fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d",
		t.Year(), t.Month(), t.Day(), t.Hour())
	filename := fmt.Sprintf("trace_%d.jsonl", t.UnixNano())

	if s.config.PathPrefix != "" {
		return path.Join(s.config.PathPrefix, datePrefix, filename)
	}
	return path.Join(datePrefix, filename)
}
