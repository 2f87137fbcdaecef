package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoKV implements KV on a DynamoDB table with a string partition
// key "k" and a string value attribute "v".
type DynamoKV struct {
	client *dynamodb.Client
	table  string
}

// dynamoItem is the stored representation of one key/value pair
type dynamoItem struct {
	Key   string `dynamodbav:"k"`
	Value string `dynamodbav:"v"`
}

// NewDynamoKV creates a DynamoDB-backed store using the default
// credential chain. endpoint overrides the service endpoint for local
// development (LocalStack); leave it empty for real AWS.
func NewDynamoKV(ctx context.Context, region, endpoint, table string) (*DynamoKV, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &DynamoKV{client: client, table: table}, nil
}

// Get retrieves a value by key
func (d *DynamoKV) Get(ctx context.Context, key string) (string, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"k": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return "", fmt.Errorf("dynamodb get error: %w", err)
	}
	if out.Item == nil {
		return "", ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return item.Value, nil
}

// Set stores a value. Throughput and item-collection limit rejections
// are surfaced as ErrCapacity.
func (d *DynamoKV) Set(ctx context.Context, key, value string) error {
	item, err := attributevalue.MarshalMap(dynamoItem{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		if isDynamoCapacity(err) {
			return fmt.Errorf("%w: %v", ErrCapacity, err)
		}
		return fmt.Errorf("dynamodb put error: %w", err)
	}
	return nil
}

// Delete removes a key
func (d *DynamoKV) Delete(ctx context.Context, key string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"k": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete error: %w", err)
	}
	return nil
}

// Keys returns all keys under prefix. DynamoDB has no prefix query on a
// partition key, so this scans the table; key volume for this cache is
// small (one item per distinct resource URL).
func (d *DynamoKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:            aws.String(d.table),
		ProjectionExpression: aws.String("k"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan error: %w", err)
		}
		for _, raw := range page.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				continue
			}
			if strings.HasPrefix(item.Key, prefix) {
				keys = append(keys, item.Key)
			}
		}
	}
	return keys, nil
}

// Close is a no-op; the SDK client holds no persistent connection
func (d *DynamoKV) Close() error {
	return nil
}

// isDynamoCapacity reports whether err is a capacity-class rejection
func isDynamoCapacity(err error) bool {
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return true
	}
	var collection *types.ItemCollectionSizeLimitExceededException
	if errors.As(err, &collection) {
		return true
	}
	var requests *types.RequestLimitExceeded
	return errors.As(err, &requests)
}
