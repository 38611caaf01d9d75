package lib

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDynamoDB struct {
	DynamoDBAPI
	table     *ddbtypes.TableDescription
	creates   []*dynamodb.CreateTableInput
	updates   []*dynamodb.UpdateTableInput
	puts      []*dynamodb.PutItemInput
	items     []*dynamodb.UpdateItemInput
	queries   []*dynamodb.QueryInput
	scans     []*dynamodb.ScanInput
	pages     []*dynamodb.QueryOutput
	putErr    error
	updateErr error
}

func (f *fakeDynamoDB) DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.table == nil {
		return nil, &ddbtypes.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &dynamodb.DescribeTableOutput{Table: f.table}, nil
}

func (f *fakeDynamoDB) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.creates = append(f.creates, input)
	f.table = &ddbtypes.TableDescription{TableName: input.TableName, TableStatus: ddbtypes.TableStatusActive}
	for _, index := range input.GlobalSecondaryIndexes {
		f.table.GlobalSecondaryIndexes = append(f.table.GlobalSecondaryIndexes, ddbtypes.GlobalSecondaryIndexDescription{
			IndexName:   index.IndexName,
			IndexStatus: ddbtypes.IndexStatusActive,
		})
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamoDB) UpdateTable(ctx context.Context, input *dynamodb.UpdateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.updates = append(f.updates, input)
	for _, update := range input.GlobalSecondaryIndexUpdates {
		f.table.GlobalSecondaryIndexes = append(f.table.GlobalSecondaryIndexes, ddbtypes.GlobalSecondaryIndexDescription{
			IndexName:   update.Create.IndexName,
			IndexStatus: ddbtypes.IndexStatusActive,
		})
	}
	return &dynamodb.UpdateTableOutput{}, nil
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.puts = append(f.puts, input)
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamoDB) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.items = append(f.items, input)
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamoDB) Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	copied := *input
	f.queries = append(f.queries, &copied)
	if len(f.pages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.pages[0]
	f.pages = f.pages[1:]
	return out, nil
}

func (f *fakeDynamoDB) Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scans = append(f.scans, input)
	return &dynamodb.ScanOutput{}, nil
}

func item(profile, id, name string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"profile": &ddbtypes.AttributeValueMemberS{Value: profile},
		"id":      &ddbtypes.AttributeValueMemberS{Value: id},
		"name":    &ddbtypes.AttributeValueMemberS{Value: name},
	}
}

func TestDynamoDBTableInput(t *testing.T) {
	input := DynamoDBTableInput("instances", "id", []string{"type", "profile", "name"})
	if input.BillingMode != ddbtypes.BillingModePayPerRequest {
		t.Errorf("got:\n%s\n", input.BillingMode)
	}
	var keys []string
	for _, k := range input.KeySchema {
		keys = append(keys, *k.AttributeName+":"+string(k.KeyType))
	}
	if !reflect.DeepEqual(keys, []string{"profile:HASH", "id:RANGE"}) {
		t.Errorf("got:\n%v\n", keys)
	}
	var attrs []string
	for _, a := range input.AttributeDefinitions {
		attrs = append(attrs, *a.AttributeName)
	}
	if !reflect.DeepEqual(attrs, []string{"profile", "id", "type", "name"}) {
		t.Errorf("got:\n%v\n", attrs)
	}
	var indexes []string
	for _, index := range input.GlobalSecondaryIndexes {
		indexes = append(indexes, *index.IndexName)
	}
	if !reflect.DeepEqual(indexes, []string{"type-index", "name-index"}) {
		t.Errorf("got:\n%v\n", indexes)
	}
}

func TestDynamoDBEnsureTable(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamoDB{}
	err := DynamoDBEnsureTable(ctx, fake, DynamoDBTableInput("instances", "id", []string{"type"}), true)
	if err != nil || len(fake.creates) != 0 {
		t.Fatalf("preview must not create: %v %d", err, len(fake.creates))
	}
	err = DynamoDBEnsureTable(ctx, fake, DynamoDBTableInput("instances", "id", []string{"type"}), false)
	if err != nil || len(fake.creates) != 1 {
		t.Fatalf("expected create: %v %d", err, len(fake.creates))
	}
	err = DynamoDBEnsureTable(ctx, fake, DynamoDBTableInput("instances", "id", []string{"type", "pem"}), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.creates) != 1 || len(fake.updates) != 1 || *fake.updates[0].GlobalSecondaryIndexUpdates[0].Create.IndexName != "pem-index" {
		t.Errorf("expected one index added, got %d creates %d updates", len(fake.creates), len(fake.updates))
	}
	err = DynamoDBEnsureTable(ctx, fake, DynamoDBTableInput("instances", "id", []string{"type", "pem"}), false)
	if err != nil || len(fake.updates) != 1 {
		t.Errorf("expected no changes: %v %d", err, len(fake.updates))
	}
}

func TestDynamoDBUpdateExpression(t *testing.T) {
	type test struct {
		set    map[string]any
		clear  []string
		expr   string
		names  map[string]string
		values map[string]any
	}
	tests := []test{
		{
			map[string]any{"status": "running", "name": "web"},
			[]string{"ip"},
			"SET #a0 = :a0, #a1 = :a1 REMOVE #r0",
			map[string]string{"#a0": "name", "#a1": "status", "#r0": "ip"},
			map[string]any{":a0": "web", ":a1": "running"},
		},
		{
			map[string]any{},
			[]string{"ip", "az"},
			"REMOVE #r0, #r1",
			map[string]string{"#r0": "az", "#r1": "ip"},
			map[string]any{},
		},
	}
	for _, test := range tests {
		expr, names, values := DynamoDBUpdateExpression(test.set, test.clear)
		if expr != test.expr {
			t.Errorf("got:\n%s\nwant:\n%s\n", expr, test.expr)
		}
		if !reflect.DeepEqual(names, test.names) {
			t.Errorf("got:\n%v\nwant:\n%v\n", names, test.names)
		}
		if !reflect.DeepEqual(values, test.values) {
			t.Errorf("got:\n%v\nwant:\n%v\n", values, test.values)
		}
	}
}

func testDynamoDBStorage(fake *fakeDynamoDB) *DynamoDBStorage {
	return &DynamoDBStorage{API: fake, Table: "instances", IDField: "id", Indexes: []string{"name", "type"}}
}

func TestDynamoDBStorageAdd(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamoDB{}
	d := testDynamoDBStorage(fake)
	r := Record{"id": Scalar("i-1"), "name": ListOf(Scalar("web"), Scalar("api")), "sg": ListOf(Scalar("a"), Scalar("b"))}
	h, err := d.Add(ctx, "prod", r)
	if err != nil {
		t.Fatal(err)
	}
	if h != "prod/i-1" {
		t.Errorf("got:\n%s\nwant:\nprod/i-1\n", h)
	}
	put := fake.puts[0]
	if *put.ConditionExpression != "attribute_not_exists(#id)" {
		t.Errorf("got:\n%s\n", *put.ConditionExpression)
	}
	name, ok := put.Item["name"].(*ddbtypes.AttributeValueMemberS)
	if !ok || name.Value != "web,api" {
		t.Errorf("indexed field must be a string, got %#v", put.Item["name"])
	}
	if _, ok := put.Item["sg"].(*ddbtypes.AttributeValueMemberL); !ok {
		t.Errorf("non indexed list must stay a list, got %#v", put.Item["sg"])
	}
	if profile, ok := put.Item["profile"].(*ddbtypes.AttributeValueMemberS); !ok || profile.Value != "prod" {
		t.Errorf("got %#v", put.Item["profile"])
	}
	fake.putErr = &ddbtypes.ConditionalCheckFailedException{Message: aws.String("exists")}
	_, err = d.Add(ctx, "prod", r)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestDynamoDBStorageUpdate(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamoDB{}
	d := testDynamoDBStorage(fake)
	err := d.Update(ctx, "prod/team/i-1", Record{"id": Scalar("i-1"), "profile": Scalar("x")}, []string{"id"})
	if err != nil || len(fake.items) != 0 {
		t.Fatalf("expected a no-op update: %v %d", err, len(fake.items))
	}
	err = d.Update(ctx, "prod/team/i-1", Record{"status": Scalar("stopped")}, []string{"ip"})
	if err != nil {
		t.Fatal(err)
	}
	input := fake.items[0]
	key := input.Key["profile"].(*ddbtypes.AttributeValueMemberS).Value + " " + input.Key["id"].(*ddbtypes.AttributeValueMemberS).Value
	if key != "prod/team i-1" {
		t.Errorf("got:\n%s\nwant:\nprod/team i-1\n", key)
	}
	if *input.UpdateExpression != "SET #a0 = :a0 REMOVE #r0" || input.ExpressionAttributeNames["#id"] != "id" {
		t.Errorf("got:\n%s %v\n", *input.UpdateExpression, input.ExpressionAttributeNames)
	}
	fake.updateErr = &ddbtypes.ConditionalCheckFailedException{Message: aws.String("missing")}
	err = d.Update(ctx, "prod/i-9", Record{"status": Scalar("stopped")}, nil)
	if !errors.Is(err, ErrNoEntry) {
		t.Errorf("expected ErrNoEntry, got %v", err)
	}
	err = d.Update(ctx, "no-slash", Record{"status": Scalar("stopped")}, nil)
	if !errors.Is(err, ErrNoEntry) {
		t.Errorf("expected ErrNoEntry, got %v", err)
	}
}

func TestDynamoDBStorageEntriesPaging(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamoDB{pages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]ddbtypes.AttributeValue{item("prod", "i-1", "web")},
			LastEvaluatedKey: item("prod", "i-1", "web"),
		},
		{
			Items: []map[string]ddbtypes.AttributeValue{item("prod", "i-2", "api")},
		},
	}}
	d := testDynamoDBStorage(fake)
	entries, err := d.Entries(ctx, "prod")
	if err != nil {
		t.Fatal(err)
	}
	var handles []Handle
	for _, e := range entries {
		handles = append(handles, e.Handle)
	}
	if !reflect.DeepEqual(handles, []Handle{"prod/i-1", "prod/i-2"}) {
		t.Errorf("got:\n%v\n", handles)
	}
	if len(fake.queries) != 2 || fake.queries[0].IndexName != nil || fake.queries[1].ExclusiveStartKey == nil {
		t.Errorf("bad paging: %d queries", len(fake.queries))
	}
}

func TestDynamoDBStorageFind(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamoDB{}
	d := testDynamoDBStorage(fake)
	_, err := d.Find(ctx, "profile", "prod")
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Find(ctx, "name", "web")
	if err != nil {
		t.Fatal(err)
	}
	_, err = d.Find(ctx, "vpc", "vpc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.queries) != 2 || fake.queries[0].IndexName != nil || *fake.queries[1].IndexName != "name-index" {
		t.Errorf("expected a base table query and an index query")
	}
	if len(fake.scans) != 1 {
		t.Errorf("expected a scan for an unindexed field")
	}
}

func TestDynamoDBStorageEmptyIndexedField(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamoDB{}
	d := testDynamoDBStorage(fake)
	_, err := d.Add(ctx, "prod", Record{"id": Scalar("i-1"), "name": Scalar(""), "type": Value{}, "status": Scalar("")})
	if err != nil {
		t.Fatal(err)
	}
	put := fake.puts[0]
	for _, field := range []string{"name", "type"} {
		if v, ok := put.Item[field]; ok {
			t.Errorf("empty index key %s must be left out, got %#v", field, v)
		}
	}
	if _, ok := put.Item["status"]; !ok {
		t.Errorf("non indexed empty field must be kept")
	}
	err = d.Update(ctx, "prod/i-1", Record{"name": Scalar(""), "status": Scalar("stopped")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	input := fake.items[0]
	if *input.UpdateExpression != "SET #a0 = :a0 REMOVE #r0" || input.ExpressionAttributeNames["#a0"] != "status" || input.ExpressionAttributeNames["#r0"] != "name" {
		t.Errorf("got:\n%s %v\n", *input.UpdateExpression, input.ExpressionAttributeNames)
	}
}
