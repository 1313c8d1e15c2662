package recipients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// statusIndex is the GSI on the recipient table keyed by status, so
// listing active recipients does not scan the whole table.
const statusIndex = "status-index"

// Dynamo is a DynamoDB-backed recipient directory.
type Dynamo struct {
	client *dynamodb.Client
	logger *slog.Logger
	table  string
}

// NewDynamo creates a DynamoDB directory over table.
func NewDynamo(client *dynamodb.Client, table string, logger *slog.Logger) *Dynamo {
	return &Dynamo{client: client, logger: logger, table: table}
}

type recipientItem struct {
	Email        string `dynamodbav:"email"`
	Name         string `dynamodbav:"name,omitempty"`
	Status       string `dynamodbav:"status"`
	SubscribedAt string `dynamodbav:"subscribed_at,omitempty"`
}

func (i recipientItem) recipient() newsletter.Recipient {
	r := newsletter.Recipient{
		Email:  i.Email,
		Name:   i.Name,
		Status: i.Status,
	}
	if ts, err := time.Parse(time.RFC3339, i.SubscribedAt); err == nil {
		r.SubscribedAt = ts
	}
	return r
}

// Active queries the status index for subscribed recipients, following
// pagination until the index is exhausted.
func (d *Dynamo) Active(ctx context.Context) ([]newsletter.Recipient, error) {
	var active []newsletter.Recipient
	var startKey map[string]types.AttributeValue

	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.table),
			IndexName:              aws.String(statusIndex),
			KeyConditionExpression: aws.String("#s = :active"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":active": &types.AttributeValueMemberS{Value: StatusActive},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query active recipients: %w", err)
		}

		var items []recipientItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal recipients: %w", err)
		}
		for _, item := range items {
			active = append(active, item.recipient())
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	d.logger.Info("Active recipients loaded", "count", len(active))
	return active, nil
}

// Subscribe upserts an address as active.
func (d *Dynamo) Subscribe(ctx context.Context, email, name string) error {
	item, err := attributevalue.MarshalMap(recipientItem{
		Email:        normalize(email),
		Name:         name,
		Status:       StatusActive,
		SubscribedAt: time.Now().In(newsletter.KST).Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal recipient: %w", err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put recipient: %w", err)
	}
	d.logger.Info("Recipient subscribed", "email", normalize(email))
	return nil
}

// Unsubscribe flips an existing recipient to unsubscribed. An unknown
// address is ErrNotFound; an already-unsubscribed one is a no-op.
func (d *Dynamo) Unsubscribe(ctx context.Context, email string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: normalize(email)},
		},
		// status is a reserved word, hence the name alias.
		UpdateExpression:    aws.String("SET #s = :unsubscribed"),
		ConditionExpression: aws.String("attribute_exists(email)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":unsubscribed": &types.AttributeValueMemberS{Value: StatusUnsubscribed},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrNotFound
		}
		return fmt.Errorf("unsubscribe recipient: %w", err)
	}

	d.logger.Info("Recipient unsubscribed", "email", normalize(email))
	return nil
}
