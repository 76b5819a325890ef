package dynamo

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"receiptvault/internal/domain/receipt"
)

const (
	attrPK        = "PK"
	attrSK        = "SK"
	attrGSI6PK    = "GSI6PK"
	attrGSI6SK    = "GSI6SK"
	attrFields    = "fields"
	attrVersion   = "serverVersion"
	attrUpdatedAt = "updatedAt"

	indexByUpdatedAt = "ByUpdatedAt"

	ownerPrefix   = "USER#"
	receiptPrefix = "RECEIPT#"
)

// timeLayout has a fixed width so that string order of GSI6SK equals time
// order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func ownerPK(ownerID string) string { return ownerPrefix + ownerID }

func receiptSK(recordID string) string { return receiptPrefix + recordID }

// header is the bookkeeping part of an item. The record's fields live in a
// single map attribute so that no field name can collide with a key.
type header struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	GSI6PK        string `dynamodbav:"GSI6PK"`
	GSI6SK        string `dynamodbav:"GSI6SK"`
	UserID        string `dynamodbav:"userId"`
	ReceiptID     string `dynamodbav:"receiptId"`
	ServerVersion int64  `dynamodbav:"serverVersion"`
	CreatedAt     string `dynamodbav:"createdAt"`
	UpdatedAt     string `dynamodbav:"updatedAt"`
}

func keyOf(k receipt.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: ownerPK(k.OwnerID)},
		attrSK: &types.AttributeValueMemberS{Value: receiptSK(k.RecordID)},
	}
}

func keyFrom(item map[string]types.AttributeValue) (receipt.Key, error) {
	pk, ok := item[attrPK].(*types.AttributeValueMemberS)
	if !ok {
		return receipt.Key{}, fmt.Errorf("item has no string %s", attrPK)
	}
	sk, ok := item[attrSK].(*types.AttributeValueMemberS)
	if !ok {
		return receipt.Key{}, fmt.Errorf("item has no string %s", attrSK)
	}
	if !strings.HasPrefix(pk.Value, ownerPrefix) || !strings.HasPrefix(sk.Value, receiptPrefix) {
		return receipt.Key{}, fmt.Errorf("unexpected key %s/%s", pk.Value, sk.Value)
	}
	return receipt.Key{
		OwnerID:  strings.TrimPrefix(pk.Value, ownerPrefix),
		RecordID: strings.TrimPrefix(sk.Value, receiptPrefix),
	}, nil
}

// encodeValue maps a field value onto DynamoDB types. Numbers are written
// from their decimal text.
func encodeValue(v receipt.Value) (types.AttributeValue, error) {
	switch v.Kind() {
	case receipt.KindNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case receipt.KindString:
		s, _ := v.AsString()
		return &types.AttributeValueMemberS{Value: s}, nil
	case receipt.KindNumber:
		n, _ := v.NumberText()
		return &types.AttributeValueMemberN{Value: n}, nil
	case receipt.KindBool:
		b, _ := v.AsBool()
		return &types.AttributeValueMemberBOOL{Value: b}, nil
	case receipt.KindList:
		items, _ := v.AsList()
		out := make([]types.AttributeValue, len(items))
		for i, item := range items {
			av, err := encodeValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = av
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case receipt.KindMap:
		m, _ := v.AsMap()
		out := make(map[string]types.AttributeValue, len(m))
		for k, item := range m {
			av, err := encodeValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = av
		}
		return &types.AttributeValueMemberM{Value: out}, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %s", v.Kind())
	}
}

func decodeValue(av types.AttributeValue) (receipt.Value, error) {
	switch t := av.(type) {
	case nil, *types.AttributeValueMemberNULL:
		return receipt.Null(), nil
	case *types.AttributeValueMemberS:
		return receipt.String(t.Value), nil
	case *types.AttributeValueMemberN:
		return receipt.ParseNumber(t.Value)
	case *types.AttributeValueMemberBOOL:
		return receipt.Bool(t.Value), nil
	case *types.AttributeValueMemberB:
		return receipt.String(string(t.Value)), nil
	case *types.AttributeValueMemberSS:
		items := make([]receipt.Value, len(t.Value))
		for i, s := range t.Value {
			items[i] = receipt.String(s)
		}
		return receipt.List(items...), nil
	case *types.AttributeValueMemberNS:
		items := make([]receipt.Value, len(t.Value))
		for i, n := range t.Value {
			v, err := receipt.ParseNumber(n)
			if err != nil {
				return receipt.Value{}, err
			}
			items[i] = v
		}
		return receipt.List(items...), nil
	case *types.AttributeValueMemberBS:
		items := make([]receipt.Value, len(t.Value))
		for i, b := range t.Value {
			items[i] = receipt.String(string(b))
		}
		return receipt.List(items...), nil
	case *types.AttributeValueMemberL:
		items := make([]receipt.Value, len(t.Value))
		for i, item := range t.Value {
			v, err := decodeValue(item)
			if err != nil {
				return receipt.Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = v
		}
		return receipt.List(items...), nil
	case *types.AttributeValueMemberM:
		m := make(map[string]receipt.Value, len(t.Value))
		for k, item := range t.Value {
			v, err := decodeValue(item)
			if err != nil {
				return receipt.Value{}, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = v
		}
		return receipt.Map(m), nil
	default:
		return receipt.Value{}, fmt.Errorf("unsupported attribute type %T", av)
	}
}

func encodeFields(fields receipt.Fields) (types.AttributeValue, error) {
	m := make(map[string]types.AttributeValue, len(fields))
	for name, v := range fields {
		av, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", name, err)
		}
		m[name] = av
	}
	return &types.AttributeValueMemberM{Value: m}, nil
}

func decodeFields(av types.AttributeValue) (receipt.Fields, error) {
	if av == nil {
		return receipt.Fields{}, nil
	}
	m, ok := av.(*types.AttributeValueMemberM)
	if !ok {
		return nil, fmt.Errorf("decode fields: want a map, got %T", av)
	}
	fields := make(receipt.Fields, len(m.Value))
	for name, item := range m.Value {
		v, err := decodeValue(item)
		if err != nil {
			return nil, fmt.Errorf("decode field %q: %w", name, err)
		}
		fields[name] = v
	}
	return fields, nil
}

func encodeRecord(rec receipt.Record) (map[string]types.AttributeValue, error) {
	updated := formatTime(rec.LastModified)
	item, err := attributevalue.MarshalMap(header{
		PK:            ownerPK(rec.OwnerID),
		SK:            receiptSK(rec.RecordID),
		GSI6PK:        ownerPK(rec.OwnerID),
		GSI6SK:        updated,
		UserID:        rec.OwnerID,
		ReceiptID:     rec.RecordID,
		ServerVersion: rec.Version,
		CreatedAt:     formatTime(rec.CreatedAt),
		UpdatedAt:     updated,
	})
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}

	fields := rec.Fields
	if fields == nil {
		fields = receipt.Fields{}
	}
	if item[attrFields], err = encodeFields(fields); err != nil {
		return nil, err
	}
	return item, nil
}

func decodeRecord(item map[string]types.AttributeValue) (receipt.Record, error) {
	var h header
	if err := attributevalue.UnmarshalMap(item, &h); err != nil {
		return receipt.Record{}, fmt.Errorf("decode item: %w", err)
	}

	createdAt, err := parseTime(h.CreatedAt)
	if err != nil {
		return receipt.Record{}, fmt.Errorf("decode createdAt: %w", err)
	}
	updatedAt, err := parseTime(h.UpdatedAt)
	if err != nil {
		return receipt.Record{}, fmt.Errorf("decode updatedAt: %w", err)
	}
	fields, err := decodeFields(item[attrFields])
	if err != nil {
		return receipt.Record{}, err
	}

	return receipt.Record{
		OwnerID:      h.UserID,
		RecordID:     h.ReceiptID,
		Fields:       fields,
		Version:      h.ServerVersion,
		CreatedAt:    createdAt,
		LastModified: updatedAt,
	}, nil
}
