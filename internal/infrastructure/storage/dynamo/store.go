// Package dynamo keeps receipts in a single DynamoDB table. Items are keyed
// by USER#<owner> / RECEIPT#<id>; the keys-only ByUpdatedAt index orders an
// owner's receipts by modification time for delta pulls.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/exp/slog"

	"receiptvault/internal/domain/receipt"
	"receiptvault/internal/domain/sync"
	"receiptvault/internal/utils/paging"
)

const (
	DefaultPageSize = 100
	// MaxBatchGet is the BatchGetItem key limit.
	MaxBatchGet = 100
	// updateAttempts bounds the read-then-CAS loop behind Update.
	updateAttempts = 8
)

// API is the subset of the DynamoDB client the store calls.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type Store struct {
	api      API
	table    string
	log      *slog.Logger
	pageSize int32
}

func NewStore(api API, table string, log *slog.Logger, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{
		api:      api,
		table:    table,
		log:      log.With("component", "dynamo_store", "table", table),
		pageSize: int32(pageSize),
	}
}

var _ sync.Repository = (*Store)(nil)

func (s *Store) Get(ctx context.Context, ownerID, recordID string) (receipt.Record, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyOf(receipt.Key{OwnerID: ownerID, RecordID: recordID}),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.log.Error("failed to get receipt", "owner", ownerID, "record_id", recordID, "error", err)
		return receipt.Record{}, false, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return receipt.Record{}, false, nil
	}

	rec, err := decodeRecord(out.Item)
	if err != nil {
		return receipt.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, rec receipt.Record) (bool, error) {
	item, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		s.log.Error("failed to put receipt", "owner", rec.OwnerID, "record_id", rec.RecordID, "error", err)
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, ownerID, recordID string, fields receipt.Fields,
	expectedVersion int64, now time.Time,
) (int64, sync.UpdateStatus, error) {
	return s.update(ctx, receipt.Key{OwnerID: ownerID, RecordID: recordID}, fields, expectedVersion, now)
}

// Update has no native unconditional form that keeps updatedAt monotonic,
// so it reads the current version and applies a conditional write, retrying
// when another writer gets in between.
func (s *Store) Update(ctx context.Context, ownerID, recordID string, fields receipt.Fields,
	now time.Time,
) (int64, sync.UpdateStatus, error) {
	key := receipt.Key{OwnerID: ownerID, RecordID: recordID}

	for range updateAttempts {
		current, found, err := s.Get(ctx, ownerID, recordID)
		if err != nil {
			return 0, sync.UpdateNotFound, err
		}
		if !found {
			return 0, sync.UpdateNotFound, nil
		}

		at := now
		if at.Before(current.LastModified) {
			at = current.LastModified
		}

		version, status, err := s.update(ctx, key, fields, current.Version, at)
		if err != nil || status != sync.UpdateVersionMismatch {
			return version, status, err
		}
	}
	return 0, sync.UpdateNotFound, fmt.Errorf("update %s: %w", key, errContended)
}

var errContended = errors.New("record kept changing under concurrent writers")

func (s *Store) update(ctx context.Context, key receipt.Key, fields receipt.Fields,
	expectedVersion int64, now time.Time,
) (int64, sync.UpdateStatus, error) {
	expr, err := buildUpdate(fields, expectedVersion, formatTime(now))
	if err != nil {
		return 0, sync.UpdateNotFound, err
	}

	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.table),
		Key:                                 keyOf(key),
		UpdateExpression:                    aws.String(expr.update),
		ConditionExpression:                 aws.String("attribute_exists(PK) AND serverVersion = :expected"),
		ExpressionAttributeNames:            expr.names,
		ExpressionAttributeValues:           expr.values,
		ReturnValues:                        types.ReturnValueUpdatedNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return 0, sync.UpdateNotFound, nil
			}
			return 0, sync.UpdateVersionMismatch, nil
		}
		s.log.Error("failed to update receipt", "key", key.String(), "error", err)
		return 0, sync.UpdateNotFound, fmt.Errorf("update item: %w", err)
	}

	v, ok := out.Attributes[attrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return 0, sync.UpdateNotFound, fmt.Errorf("update item: no %s returned", attrVersion)
	}
	version, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, sync.UpdateNotFound, fmt.Errorf("parse %s: %w", attrVersion, err)
	}
	return version, sync.UpdateApplied, nil
}

type updateExpr struct {
	update string
	names  map[string]string
	values map[string]types.AttributeValue
}

// buildUpdate sets each field inside the fields map through placeholders,
// so any field name is safe, then bumps the version and timestamps.
func buildUpdate(fields receipt.Fields, expectedVersion int64, now string) (updateExpr, error) {
	e := updateExpr{
		values: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
			":one":      &types.AttributeValueMemberN{Value: "1"},
			":now":      &types.AttributeValueMemberS{Value: now},
		},
	}

	clauses := make([]string, 0, len(fields)+3)
	if len(fields) > 0 {
		e.names = map[string]string{"#fields": attrFields}
	}
	for i, name := range fields.Names() {
		av, err := encodeValue(fields[name])
		if err != nil {
			return updateExpr{}, fmt.Errorf("encode field %q: %w", name, err)
		}
		n, v := "#f"+strconv.Itoa(i), ":f"+strconv.Itoa(i)
		e.names[n] = name
		e.values[v] = av
		clauses = append(clauses, "#fields."+n+" = "+v)
	}
	clauses = append(clauses,
		attrVersion+" = "+attrVersion+" + :one",
		attrUpdatedAt+" = :now",
		attrGSI6SK+" = :now",
	)

	e.update = "SET " + strings.Join(clauses, ", ")
	return e, nil
}

func (s *Store) QueryModifiedSince(ctx context.Context, ownerID string, cursor time.Time,
	token paging.Token,
) (paging.Page[receipt.Key], error) {
	start, err := decodeStartKey(token)
	if err != nil {
		return paging.Page[receipt.Key]{}, err
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(indexByUpdatedAt),
		KeyConditionExpression: aws.String("GSI6PK = :pk AND GSI6SK >= :since"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: ownerPK(ownerID)},
			":since": &types.AttributeValueMemberS{Value: formatTime(cursor)},
		},
		ExclusiveStartKey: start,
		Limit:             aws.Int32(s.pageSize),
	})
	if err != nil {
		s.log.Error("failed to query modified receipts", "owner", ownerID, "error", err)
		return paging.Page[receipt.Key]{}, fmt.Errorf("query %s: %w", indexByUpdatedAt, err)
	}

	page := paging.Page[receipt.Key]{Items: make([]receipt.Key, 0, len(out.Items))}
	for _, item := range out.Items {
		k, err := keyFrom(item)
		if err != nil {
			return paging.Page[receipt.Key]{}, err
		}
		page.Items = append(page.Items, k)
	}
	if page.Next, err = encodeStartKey(out.LastEvaluatedKey); err != nil {
		return paging.Page[receipt.Key]{}, err
	}
	return page, nil
}

func (s *Store) QueryAll(ctx context.Context, ownerID string, token paging.Token) (paging.Page[receipt.Record], error) {
	start, err := decodeStartKey(token)
	if err != nil {
		return paging.Page[receipt.Record]{}, err
	}

	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: ownerPK(ownerID)},
			":prefix": &types.AttributeValueMemberS{Value: receiptPrefix},
		},
		ExclusiveStartKey: start,
		ConsistentRead:    aws.Bool(true),
		Limit:             aws.Int32(s.pageSize),
	})
	if err != nil {
		s.log.Error("failed to query receipts", "owner", ownerID, "error", err)
		return paging.Page[receipt.Record]{}, fmt.Errorf("query receipts: %w", err)
	}

	page := paging.Page[receipt.Record]{Items: make([]receipt.Record, 0, len(out.Items))}
	for _, item := range out.Items {
		rec, err := decodeRecord(item)
		if err != nil {
			return paging.Page[receipt.Record]{}, err
		}
		page.Items = append(page.Items, rec)
	}
	if page.Next, err = encodeStartKey(out.LastEvaluatedKey); err != nil {
		return paging.Page[receipt.Record]{}, err
	}
	return page, nil
}

// BatchGet issues one BatchGetItem per MaxBatchGet keys. Keys DynamoDB
// hands back as unprocessed, and whole chunks refused for throughput, are
// returned in Unprocessed.
func (s *Store) BatchGet(ctx context.Context, keys []receipt.Key) (sync.BatchGetResult, error) {
	var res sync.BatchGetResult

	for start := 0; start < len(keys); start += MaxBatchGet {
		chunk := keys[start:min(start+MaxBatchGet, len(keys))]

		req := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, k := range chunk {
			req = append(req, keyOf(k))
		}

		out, err := s.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				s.table: {Keys: req, ConsistentRead: aws.Bool(true)},
			},
		})
		if err != nil {
			if isThrottled(err) {
				s.log.Warn("batch get throttled", "keys", len(chunk), "error", err)
				res.Unprocessed = append(res.Unprocessed, chunk...)
				continue
			}
			s.log.Error("failed to batch get receipts", "keys", len(chunk), "error", err)
			return sync.BatchGetResult{}, fmt.Errorf("batch get item: %w", err)
		}

		for _, item := range out.Responses[s.table] {
			rec, err := decodeRecord(item)
			if err != nil {
				return sync.BatchGetResult{}, err
			}
			res.Records = append(res.Records, rec)
		}
		if pending, ok := out.UnprocessedKeys[s.table]; ok {
			for _, item := range pending.Keys {
				k, err := keyFrom(item)
				if err != nil {
					return sync.BatchGetResult{}, err
				}
				res.Unprocessed = append(res.Unprocessed, k)
			}
		}
	}
	return res, nil
}

func isThrottled(err error) bool {
	var pte *types.ProvisionedThroughputExceededException
	var rle *types.RequestLimitExceeded
	return errors.As(err, &pte) || errors.As(err, &rle)
}

// Start keys of this table hold string attributes only.
func encodeStartKey(key map[string]types.AttributeValue) (paging.Token, error) {
	if len(key) == 0 {
		return "", nil
	}
	plain := make(map[string]string, len(key))
	for name, av := range key {
		s, ok := av.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("start key attribute %s is not a string", name)
		}
		plain[name] = s.Value
	}
	return paging.Encode(plain)
}

func decodeStartKey(token paging.Token) (map[string]types.AttributeValue, error) {
	if token.IsZero() {
		return nil, nil
	}
	var plain map[string]string
	if err := paging.Decode(token, &plain); err != nil {
		return nil, err
	}
	key := make(map[string]types.AttributeValue, len(plain))
	for name, v := range plain {
		key[name] = &types.AttributeValueMemberS{Value: v}
	}
	return key, nil
}
