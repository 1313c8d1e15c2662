package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// failureTTL keeps failure records from accumulating forever; DynamoDB
// expires them a week after the last update.
const failureTTL = 7 * 24 * time.Hour

// DynamoStore is the ledger backed by the original deployment's
// DynamoDB tables: delivery history keyed by delivery_date, recipient
// marks keyed by email, and a failure counter keyed by date.
type DynamoStore struct {
	client        *dynamodb.Client
	logger        *slog.Logger
	deliveryTable string
	markTable     string
	failureTable  string
}

// NewDynamoStore creates a DynamoDB-backed ledger.
func NewDynamoStore(client *dynamodb.Client, deliveryTable, markTable, failureTable string, logger *slog.Logger) *DynamoStore {
	return &DynamoStore{
		client:        client,
		logger:        logger,
		deliveryTable: deliveryTable,
		markTable:     markTable,
		failureTable:  failureTable,
	}
}

type deliveryItem struct {
	Date           string `dynamodbav:"delivery_date"`
	Timestamp      string `dynamodbav:"timestamp"`
	RecipientCount int    `dynamodbav:"recipient_count"`
	Status         string `dynamodbav:"status"`
	EditionTitle   string `dynamodbav:"edition_title,omitempty"`
}

type markItem struct {
	Email            string `dynamodbav:"email"`
	LastDeliveryDate string `dynamodbav:"last_delivery_date"`
}

// HasDeliveredToday reports whether a delivered record exists for date.
// Any error, including a missing table on first run, degrades to false.
func (s *DynamoStore) HasDeliveredToday(ctx context.Context, date string) bool {
	rec, err := s.DeliveryRecord(ctx, date)
	if err != nil {
		if !IsNotFound(err) {
			s.logger.Warn("Ledger read failed, treating day as undelivered", "date", date, "error", err)
		}
		return false
	}
	return rec.Status == newsletter.StatusDelivered
}

// DeliveryRecord loads the record for date, or ErrNotFound.
func (s *DynamoStore) DeliveryRecord(ctx context.Context, date string) (*newsletter.DeliveryRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.deliveryTable),
		Key: map[string]types.AttributeValue{
			"delivery_date": &types.AttributeValueMemberS{Value: date},
		},
	})
	if err != nil {
		if isMissingTable(err) {
			s.logger.Warn("Delivery history table does not exist", "table", s.deliveryTable)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item deliveryItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal delivery record: %w", err)
	}

	rec := &newsletter.DeliveryRecord{
		Date:           item.Date,
		RecipientCount: item.RecipientCount,
		Status:         newsletter.DeliveryStatus(item.Status),
		EditionTitle:   item.EditionTitle,
	}
	if ts, parseErr := time.Parse(time.RFC3339, item.Timestamp); parseErr == nil {
		rec.DeliveredAt = ts
	}
	return rec, nil
}

// MarkDelivered upserts the day record (PutItem overwrites).
func (s *DynamoStore) MarkDelivered(ctx context.Context, rec *newsletter.DeliveryRecord) error {
	item, err := attributevalue.MarshalMap(deliveryItem{
		Date:           rec.Date,
		Timestamp:      rec.DeliveredAt.Format(time.RFC3339),
		RecipientCount: rec.RecipientCount,
		Status:         string(rec.Status),
		EditionTitle:   rec.EditionTitle,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery record: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.deliveryTable),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put delivery record: %w", err)
	}

	s.logger.Info("Delivery recorded",
		"date", rec.Date,
		"status", rec.Status,
		"recipient_count", rec.RecipientCount)
	return nil
}

// RecipientLastDelivery returns the last date email was sent mail, or
// "" when no mark exists.
func (s *DynamoStore) RecipientLastDelivery(ctx context.Context, email string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.markTable),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		if isMissingTable(err) {
			return "", nil
		}
		return "", fmt.Errorf("get recipient mark: %w", err)
	}
	if out.Item == nil {
		return "", nil
	}

	var item markItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", fmt.Errorf("unmarshal recipient mark: %w", err)
	}
	return item.LastDeliveryDate, nil
}

// MarkRecipientDelivered records that email received date's edition.
func (s *DynamoStore) MarkRecipientDelivered(ctx context.Context, email, date string) error {
	item, err := attributevalue.MarshalMap(markItem{Email: email, LastDeliveryDate: date})
	if err != nil {
		return fmt.Errorf("marshal recipient mark: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.markTable),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put recipient mark: %w", err)
	}
	return nil
}

// FailureCount returns today's failure count; errors degrade to zero.
func (s *DynamoStore) FailureCount(ctx context.Context, date string) int {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.failureTable),
		Key: map[string]types.AttributeValue{
			"date": &types.AttributeValueMemberS{Value: date},
		},
	})
	if err != nil {
		if !isMissingTable(err) {
			s.logger.Warn("Failure count read failed, assuming zero", "date", date, "error", err)
		}
		return 0
	}
	if out.Item == nil {
		return 0
	}

	count, ok := out.Item["failure_count"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(count.Value)
	if err != nil {
		return 0
	}
	return n
}

// RecordFailure atomically increments the day's failure count via
// DynamoDB's ADD and returns the new value.
func (s *DynamoStore) RecordFailure(ctx context.Context, date, reason string) (int, error) {
	ttl := time.Now().Add(failureTTL).Unix()

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.failureTable),
		Key: map[string]types.AttributeValue{
			"date": &types.AttributeValueMemberS{Value: date},
		},
		// ttl is a reserved word, hence the name alias.
		UpdateExpression: aws.String("ADD failure_count :inc SET last_error = :err, updated_at = :updated, #ttl = :ttl"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inc":     &types.AttributeValueMemberN{Value: "1"},
			":err":     &types.AttributeValueMemberS{Value: truncateReason(reason)},
			":updated": &types.AttributeValueMemberS{Value: time.Now().In(newsletter.KST).Format(time.RFC3339)},
			":ttl":     &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment failure count: %w", err)
	}

	count := 1
	if n, ok := out.Attributes["failure_count"].(*types.AttributeValueMemberN); ok {
		if parsed, parseErr := strconv.Atoi(n.Value); parseErr == nil {
			count = parsed
		}
	}
	s.logger.Info("Fetch failure recorded", "date", date, "count", count)
	return count, nil
}

// ResetFailures clears the day's failure count; deleting a missing
// item is a no-op in DynamoDB.
func (s *DynamoStore) ResetFailures(ctx context.Context, date string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.failureTable),
		Key: map[string]types.AttributeValue{
			"date": &types.AttributeValueMemberS{Value: date},
		},
	}); err != nil {
		return fmt.Errorf("reset failure count: %w", err)
	}
	return nil
}

func isMissingTable(err error) bool {
	var notFound *types.ResourceNotFoundException
	return errors.As(err, &notFound)
}
