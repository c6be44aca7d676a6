package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/armugharaj/full-stack-devops-automation/pkg/types"
)

// Key prefixes for the single-table layout. The truth item for a run lives
// under RUN#<id>; a list copy lives under LEDGER#<pipeline> with a
// time-ordered sort key, indexed globally through GSI1.
const (
	prefixRun    = "RUN#"
	prefixLedger = "LEDGER#"
	prefixType   = "TYPE#"
	prefixTS     = "TS#"

	skEntry = "ENTRY"
)

var _ Store = (*Dynamo)(nil)

// ddbAPI is the slice of the DynamoDB client Dynamo uses. Unit tests swap in
// a mock.
type ddbAPI interface {
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, input *dynamodb.UpdateTimeToLiveInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// Dynamo stores ledger entries in a single DynamoDB table. Each Record
// writes the truth item with a condition on the run id, then a list copy
// whose sort key orders by completion time.
type Dynamo struct {
	client      ddbAPI
	tableName   string
	retention   time.Duration
	createTable bool
	logger      *slog.Logger
}

// NewDynamo builds a DynamoDB-backed store. When cfg.Endpoint is set the
// client targets a local instance with static credentials.
func NewDynamo(cfg types.DynamoDBConfig, logger *slog.Logger) (*Dynamo, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	retention := defaultRetentionTTL
	if cfg.RetentionTTL != "" {
		if d, err := time.ParseDuration(cfg.RetentionTTL); err == nil && d > 0 {
			retention = d
		}
	}

	return &Dynamo{
		client:      dynamodb.NewFromConfig(awsCfg, clientOpts...),
		tableName:   cfg.TableName,
		retention:   retention,
		createTable: cfg.CreateTable,
		logger:      logger.With("component", "ledger"),
	}, nil
}

func entryPK(runID string) string {
	return prefixRun + runID
}

func listPK(pipeline string) string {
	return prefixLedger + pipeline
}

// listSK zero-pads the millisecond timestamp so lexical sort key order is
// completion order, with the run id as tie-breaker.
func listSK(completedAt time.Time, runID string) string {
	return fmt.Sprintf("%s%013d#%s", prefixTS, completedAt.UnixMilli(), runID)
}

// Record writes the truth item guarded by attribute_not_exists, then the
// list copy. A duplicate record with the same outcome rewrites the copy so
// an interrupted earlier write converges.
func (d *Dynamo) Record(ctx context.Context, entry types.LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling ledger entry: %w", err)
	}
	ttl := strconv.FormatInt(ttlEpoch(d.retention), 10)

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &d.tableName,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
		Item: map[string]ddbtypes.AttributeValue{
			"PK":      &ddbtypes.AttributeValueMemberS{Value: entryPK(entry.RunID)},
			"SK":      &ddbtypes.AttributeValueMemberS{Value: skEntry},
			"outcome": &ddbtypes.AttributeValueMemberS{Value: string(entry.Outcome)},
			"data":    &ddbtypes.AttributeValueMemberS{Value: string(data)},
			"ttl":     &ddbtypes.AttributeValueMemberN{Value: ttl},
		},
	})
	if err != nil {
		if !isConditionalCheckFailed(err) {
			return fmt.Errorf("recording run %s: %w", entry.RunID, err)
		}
		existing, gerr := d.Get(ctx, entry.RunID)
		if gerr != nil {
			return fmt.Errorf("recording run %s: %w", entry.RunID, gerr)
		}
		if existing.Outcome != entry.Outcome {
			return fmt.Errorf("%w: run %s already recorded as %s, got %s",
				ErrConflict, entry.RunID, existing.Outcome, entry.Outcome)
		}
		entry = existing
		if data, err = json.Marshal(entry); err != nil {
			return fmt.Errorf("marshaling ledger entry: %w", err)
		}
	}

	sk := listSK(entry.CompletedAt, entry.RunID)
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":     &ddbtypes.AttributeValueMemberS{Value: listPK(entry.Pipeline)},
			"SK":     &ddbtypes.AttributeValueMemberS{Value: sk},
			"GSI1PK": &ddbtypes.AttributeValueMemberS{Value: prefixType + "run"},
			"GSI1SK": &ddbtypes.AttributeValueMemberS{Value: sk},
			"data":   &ddbtypes.AttributeValueMemberS{Value: string(data)},
			"ttl":    &ddbtypes.AttributeValueMemberN{Value: ttl},
		},
	})
	if err != nil {
		return fmt.Errorf("indexing run %s: %w", entry.RunID, err)
	}
	return nil
}

// Get reads the truth item with strong consistency.
func (d *Dynamo) Get(ctx context.Context, runID string) (types.LedgerEntry, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &d.tableName,
		ConsistentRead: aws.Bool(true),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: entryPK(runID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skEntry},
		},
	})
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if out.Item == nil {
		return types.LedgerEntry{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	ttlVal, _ := attributeInt(out.Item, "ttl")
	if isExpired(ttlVal) {
		return types.LedgerEntry{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}

	data, err := attributeStr(out.Item, "data")
	if err != nil {
		return types.LedgerEntry{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	var entry types.LedgerEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return types.LedgerEntry{}, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return entry, nil
}

// List queries the per-pipeline partition, or GSI1 when no pipeline filter
// is set. Sort keys ascend by completion time so no client-side sort is
// needed.
func (d *Dynamo) List(ctx context.Context, q Query) ([]types.LedgerEntry, error) {
	lo := prefixTS + "0000000000000"
	if !q.Since.IsZero() {
		lo = fmt.Sprintf("%s%013d", prefixTS, q.Since.UnixMilli())
	}
	hi := prefixTS + "9999999999999#~"
	if !q.Until.IsZero() {
		hi = fmt.Sprintf("%s%013d#~", prefixTS, q.Until.UnixMilli())
	}

	input := &dynamodb.QueryInput{
		TableName:              &d.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :lo AND :hi"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: listPK(q.Pipeline)},
			":lo": &ddbtypes.AttributeValueMemberS{Value: lo},
			":hi": &ddbtypes.AttributeValueMemberS{Value: hi},
		},
	}
	if q.Pipeline == "" {
		input.IndexName = aws.String("GSI1")
		input.KeyConditionExpression = aws.String("GSI1PK = :pk AND GSI1SK BETWEEN :lo AND :hi")
		input.ExpressionAttributeValues[":pk"] = &ddbtypes.AttributeValueMemberS{Value: prefixType + "run"}
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit))
	}

	out, err := d.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}

	entries := make([]types.LedgerEntry, 0, len(out.Items))
	for _, item := range out.Items {
		ttlVal, _ := attributeInt(item, "ttl")
		if isExpired(ttlVal) {
			continue
		}
		data, err := attributeStr(item, "data")
		if err != nil {
			d.logger.Warn("skipping corrupt ledger entry", "error", err)
			continue
		}
		var entry types.LedgerEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			d.logger.Warn("skipping corrupt ledger entry", "error", err)
			continue
		}
		if !q.Matches(entry) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Start optionally creates the table, then pings.
func (d *Dynamo) Start(ctx context.Context) error {
	if d.createTable {
		if err := d.ensureTable(ctx); err != nil {
			return err
		}
	}
	return d.Ping(ctx)
}

// Stop is a no-op; the SDK client holds no persistent connections.
func (d *Dynamo) Stop(_ context.Context) error {
	return nil
}

// Ping checks connectivity by describing the table.
func (d *Dynamo) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &d.tableName,
	})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

func (d *Dynamo) ensureTable(ctx context.Context) error {
	_, err := d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &d.tableName,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: ddbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []ddbtypes.GlobalSecondaryIndex{
			{
				IndexName: aws.String("GSI1"),
				KeySchema: []ddbtypes.KeySchemaElement{
					{AttributeName: aws.String("GSI1PK"), KeyType: ddbtypes.KeyTypeHash},
					{AttributeName: aws.String("GSI1SK"), KeyType: ddbtypes.KeyTypeRange},
				},
				Projection: &ddbtypes.Projection{ProjectionType: ddbtypes.ProjectionTypeAll},
				ProvisionedThroughput: &ddbtypes.ProvisionedThroughput{
					ReadCapacityUnits:  aws.Int64(5),
					WriteCapacityUnits: aws.Int64(5),
				},
			},
		},
		ProvisionedThroughput: &ddbtypes.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(5),
			WriteCapacityUnits: aws.Int64(5),
		},
	})
	if err != nil {
		var riue *ddbtypes.ResourceInUseException
		if errors.As(err, &riue) {
			return nil // table already exists
		}
		return fmt.Errorf("creating table: %w", err)
	}

	_, err = d.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: &d.tableName,
		TimeToLiveSpecification: &ddbtypes.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String("ttl"),
		},
	})
	if err != nil {
		d.logger.Warn("failed to enable TTL (may already be enabled)", "error", err)
	}
	return nil
}

// isConditionalCheckFailed reports whether err is a DynamoDB
// ConditionalCheckFailedException.
func isConditionalCheckFailed(err error) bool {
	var ccfe *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccfe)
}

// attributeStr extracts a string attribute from a DynamoDB item.
func attributeStr(item map[string]ddbtypes.AttributeValue, key string) (string, error) {
	av, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	var s string
	if err := attributevalue.Unmarshal(av, &s); err != nil {
		return "", fmt.Errorf("unmarshaling %q: %w", key, err)
	}
	return s, nil
}

// attributeInt extracts an integer attribute from a DynamoDB item. A missing
// attribute reads as zero.
func attributeInt(item map[string]ddbtypes.AttributeValue, key string) (int64, error) {
	av, ok := item[key]
	if !ok {
		return 0, nil
	}
	var n int64
	if err := attributevalue.Unmarshal(av, &n); err != nil {
		return 0, fmt.Errorf("unmarshaling %q: %w", key, err)
	}
	return n, nil
}

func ttlEpoch(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}

func isExpired(epoch int64) bool {
	return epoch > 0 && time.Now().Unix() > epoch
}
