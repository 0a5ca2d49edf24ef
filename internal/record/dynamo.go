package record

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoStore persists upload records in a DynamoDB table keyed by "id".
// Committed chunk indices live in a number-set attribute so CommitChunk is a
// single conditional update rather than a read-modify-write.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

func (d *DynamoStore) Create(ctx context.Context, rec *UploadRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal upload record: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrAlreadyExists
	}
	return err
}

func (d *DynamoStore) Get(ctx context.Context, id string) (*UploadRecord, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       recordKey(id),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var rec UploadRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload record: %w", err)
	}
	return &rec, nil
}

func (d *DynamoStore) CommitChunk(ctx context.Context, id string, index int) (int, error) {
	idx := strconv.Itoa(index)

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              recordKey(id),
		UpdateExpression: aws.String("ADD committed_chunks :c SET updated_at = :now"),
		ConditionExpression: aws.String(
			"attribute_exists(id) AND #st = :uploading AND " +
				"(attribute_not_exists(committed_chunks) OR NOT contains(committed_chunks, :cn))",
		),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c":         &types.AttributeValueMemberNS{Value: []string{idx}},
			":cn":        &types.AttributeValueMemberN{Value: idx},
			":uploading": &types.AttributeValueMemberS{Value: string(StatusUploading)},
			":now":       &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return 0, d.classifyCommitFailure(ctx, id)
		}
		return 0, err
	}

	return committedCount(out.Attributes), nil
}

// classifyCommitFailure turns a failed conditional commit into the sentinel
// the caller can act on: unknown record, terminal record, or a duplicate index.
func (d *DynamoStore) classifyCommitFailure(ctx context.Context, id string) error {
	rec, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != StatusUploading {
		return ErrNotUploading
	}
	return ErrDuplicateChunk
}

func (d *DynamoStore) ChunksCommitted(ctx context.Context, id string) (int, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(d.tableName),
		Key:                  recordKey(id),
		ProjectionExpression: aws.String("id, committed_chunks"),
	})
	if err != nil {
		return 0, err
	}
	if out.Item == nil {
		return 0, ErrNotFound
	}
	return committedCount(out.Item), nil
}

func (d *DynamoStore) SetStatus(ctx context.Context, id string, to Status) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 recordKey(id),
		UpdateExpression:         aws.String("SET #st = :to, updated_at = :now"),
		ConditionExpression:      aws.String("attribute_exists(id) AND #st = :uploading"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":to":        &types.AttributeValueMemberS{Value: string(to)},
			":uploading": &types.AttributeValueMemberS{Value: string(StatusUploading)},
			":now":       &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if isConditionalCheckFailed(err) {
		rec, getErr := d.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if rec.Status != StatusUploading {
			return ErrNotUploading
		}
		return err
	}
	return err
}

func (d *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 recordKey(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrNotFound
	}
	return err
}

func recordKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func committedCount(item map[string]types.AttributeValue) int {
	set, ok := item["committed_chunks"].(*types.AttributeValueMemberNS)
	if !ok {
		return 0
	}
	return len(set.Value)
}

func isConditionalCheckFailed(err error) bool {
	var cond *types.ConditionalCheckFailedException
	return errors.As(err, &cond)
}
