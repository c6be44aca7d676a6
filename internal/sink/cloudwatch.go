package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

const defaultLogStream = "conveyor"

// CloudWatchAPI is the subset of the CloudWatch Logs client used by
// CloudWatchSink.
type CloudWatchAPI interface {
	CreateLogGroup(ctx context.Context, input *cloudwatchlogs.CreateLogGroupInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, input *cloudwatchlogs.CreateLogStreamInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, input *cloudwatchlogs.PutLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchSink writes events to a CloudWatch Logs stream.
type CloudWatchSink struct {
	client CloudWatchAPI
	group  string
	stream string
}

// CloudWatchSinkOption configures a CloudWatchSink.
type CloudWatchSinkOption func(*CloudWatchSink)

// WithCloudWatchClient sets a custom CloudWatch Logs client (useful for
// testing).
func WithCloudWatchClient(c CloudWatchAPI) CloudWatchSinkOption {
	return func(s *CloudWatchSink) { s.client = c }
}

// NewCloudWatchSink creates a new CloudWatch Logs event sink. The log group
// and stream are created if they do not exist.
func NewCloudWatchSink(cfg types.SinkConfig, opts ...CloudWatchSinkOption) (*CloudWatchSink, error) {
	if cfg.LogGroup == "" {
		return nil, fmt.Errorf("CloudWatch log group required")
	}
	s := &CloudWatchSink{group: cfg.LogGroup, stream: cfg.LogStream}
	if s.stream == "" {
		s.stream = defaultLogStream
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = cloudwatchlogs.NewFromConfig(awsCfg)
	}
	if err := s.ensure(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the sink identifier.
func (s *CloudWatchSink) Name() string { return "cloudwatch" }

// Send writes the log line as a JSON event to the configured stream.
func (s *CloudWatchSink) Send(ctx context.Context, line types.LogLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	return s.put(ctx, line.At, data)
}

// Observe writes the sample as a JSON event to the configured stream.
func (s *CloudWatchSink) Observe(ctx context.Context, sample types.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return s.put(ctx, sample.At, data)
}

func (s *CloudWatchSink) put(ctx context.Context, at time.Time, payload []byte) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(s.group),
		LogStreamName: aws.String(s.stream),
		LogEvents: []cwltypes.InputLogEvent{{
			Message:   aws.String(string(payload)),
			Timestamp: aws.Int64(at.UnixMilli()),
		}},
	})
	if err != nil {
		return fmt.Errorf("putting log events: %w", err)
	}
	return nil
}

// ensure creates the log group and stream, tolerating either already
// existing.
func (s *CloudWatchSink) ensure(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(s.group),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("creating log group: %w", err)
	}

	_, err = s.client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(s.group),
		LogStreamName: aws.String(s.stream),
	})
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("creating log stream: %w", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	var exists *cwltypes.ResourceAlreadyExistsException
	return errors.As(err, &exists)
}
