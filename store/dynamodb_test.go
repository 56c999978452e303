package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/errors"
)

type item = map[string]types.AttributeValue

// fakeDynamo keeps items per table keyed by "id" or "id/resp_no".
type fakeDynamo struct {
	tables map[string]map[string]item
	calls  []string
	// throttle is how many batch calls hand back their last request unprocessed.
	throttle int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: map[string]map[string]item{}}
}

func keyOf(k item) string {
	if n := getN(k, "resp_no"); k["resp_no"] != nil {
		return fmt.Sprintf("%s/%d", getS(k, "id"), n)
	}
	return getS(k, "id")
}

func (f *fakeDynamo) table(name *string) map[string]item {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		t = map[string]item{}
		f.tables[aws.ToString(name)] = t
	}
	return t
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.table(in.TableName)[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.calls = append(f.calls, "put:"+aws.ToString(in.TableName))
	f.table(in.TableName)[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.calls = append(f.calls, "delete:"+aws.ToString(in.TableName))
	delete(f.table(in.TableName), keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	out := &dynamodb.ScanOutput{}
	for _, it := range f.table(in.TableName) {
		if in.FilterExpression != nil {
			field := in.ExpressionAttributeNames["#f"]
			if getS(it, field) != getS(in.ExpressionAttributeValues, ":v") {
				continue
			}
		}
		out.Items = append(out.Items, it)
	}
	return out, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	out := &dynamodb.QueryOutput{}
	id := getS(in.ExpressionAttributeValues, ":id")
	for _, it := range f.table(in.TableName) {
		if getS(it, "id") == id {
			out.Items = append(out.Items, it)
		}
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	out := &dynamodb.BatchWriteItemOutput{}
	for name, reqs := range in.RequestItems {
		f.calls = append(f.calls, "batch:"+name)
		if f.throttle > 0 && len(reqs) > 0 {
			f.throttle--
			out.UnprocessedItems = map[string][]types.WriteRequest{name: reqs[len(reqs)-1:]}
			reqs = reqs[:len(reqs)-1]
		}
		for _, r := range reqs {
			delete(f.table(aws.String(name)), keyOf(r.DeleteRequest.Key))
		}
	}
	return out, nil
}

func newTestDynamo() (*DynamoStore, *fakeDynamo) {
	fake := newFakeDynamo()
	return &DynamoStore{client: fake, tables: config.Default().Store.Tables, batchBackoff: time.Millisecond}, fake
}

func TestDynamoAgentItems(t *testing.T) {
	d, fake := newTestDynamo()
	ctx := context.Background()

	require.NoError(t, d.PutAgent(ctx, sampleAgent("a1", "math")))
	assert.Equal(t, []string{"delete:AgentTable", "put:AgentTable"}, fake.calls)

	stored := fake.tables["AgentTable"]["a1"]
	tools, ok := stored["tools"].(*types.AttributeValueMemberL)
	require.True(t, ok)
	assert.Len(t, tools.Value, 2)
	assert.Equal(t, "gpt-4o", getS(stored, "model_id"))

	got, err := d.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, sampleAgent("a1", "math"), got)

	_, err = d.GetAgent(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, d.PutAgent(ctx, sampleAgent("a2", "writer")))
	found, err := d.FindAgentsByField(ctx, "name", "writer", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a2", found[0].ID)
}

func TestDynamoDeleteChatOrder(t *testing.T) {
	d, fake := newTestDynamo()
	ctx := context.Background()

	require.NoError(t, d.PutChatRecord(ctx, &ChatRecord{ID: "c1", AgentID: "a1", UserMessage: "hi"}))
	for i := range 30 {
		require.NoError(t, d.PutChatResponse(ctx, &ChatResponse{ChatID: "c1", RespNo: i, Content: "{}"}))
	}
	resps, err := d.ListChatResponses(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, resps, 30)
	assert.Equal(t, 29, resps[29].RespNo)

	fake.calls = nil
	require.NoError(t, d.DeleteChat(ctx, "c1"))
	assert.Equal(t, []string{"delete:ChatRecordTable", "batch:ChatResponseTable", "batch:ChatResponseTable"}, fake.calls)

	resps, err = d.ListChatResponses(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, resps)
}

func TestDynamoDeleteChatUnprocessed(t *testing.T) {
	tests := []struct {
		name      string
		throttle  int
		wantErr   bool
		wantCalls int
	}{
		{"retried until drained", 2, false, 3},
		{"gives up after max tries", 100, true, batchMaxTries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, fake := newTestDynamo()
			ctx := context.Background()
			require.NoError(t, d.PutChatRecord(ctx, &ChatRecord{ID: "c1", AgentID: "a1", UserMessage: "hi"}))
			for i := range 3 {
				require.NoError(t, d.PutChatResponse(ctx, &ChatResponse{ChatID: "c1", RespNo: i, Content: "{}"}))
			}

			fake.calls = nil
			fake.throttle = tt.throttle
			err := d.DeleteChat(ctx, "c1")

			batches := 0
			for _, c := range fake.calls {
				if c == "batch:ChatResponseTable" {
					batches++
				}
			}
			assert.Equal(t, tt.wantCalls, batches)
			resps, listErr := d.ListChatResponses(ctx, "c1")
			require.NoError(t, listErr)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unprocessed")
				assert.NotEmpty(t, resps)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, resps)
		})
	}
}

func TestDynamoScheduleItems(t *testing.T) {
	d, fake := newTestDynamo()
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	in := &Schedule{ID: "s1", AgentID: "a1", AgentName: "Math", CronExpression: "0 9 ? * MON", Status: "ENABLED", UserMessage: "go", CreatedAt: created, UpdatedAt: created}
	require.NoError(t, d.PutSchedule(ctx, in))
	assert.Equal(t, []string{"put:AgentScheduleTable"}, fake.calls)
	assert.Equal(t, "0 9 ? * MON", getS(fake.tables["AgentScheduleTable"]["s1"], "cronExpression"))

	got, err := d.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	list, err := d.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, d.DeleteSchedule(ctx, "s1"))
	_, err = d.GetSchedule(ctx, "s1")
	assert.True(t, errors.IsNotFound(err))
}
