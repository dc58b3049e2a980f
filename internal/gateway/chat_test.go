package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatewayllm/gatewayllm/types"
)

func validRequest() *types.CompletionRequest {
	return &types.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{types.NewUserMessage("hi")},
	}
}

func TestValidateCompletionRequest_Valid(t *testing.T) {
	assert.Nil(t, validateCompletionRequest(validRequest()))
}

func TestValidateCompletionRequest_MissingModel(t *testing.T) {
	req := validRequest()
	req.Model = ""
	err := validateCompletionRequest(req)
	assert.NotNil(t, err)
	assert.Equal(t, 400, err.HTTPStatus)
	assert.Equal(t, "model", err.Param)
}

func TestValidateCompletionRequest_EmptyMessages(t *testing.T) {
	req := validRequest()
	req.Messages = nil
	err := validateCompletionRequest(req)
	assert.NotNil(t, err)
	assert.Equal(t, "messages", err.Param)
}

func TestValidateCompletionRequest_TemperatureOutOfRange(t *testing.T) {
	for _, temp := range []float64{-0.1, 2.1} {
		req := validRequest()
		req.Temperature = temp
		err := validateCompletionRequest(req)
		assert.NotNil(t, err, "temperature=%v should reject", temp)
		assert.Equal(t, "temperature", err.Param)
	}
}

func TestValidateCompletionRequest_TopPOutOfRange(t *testing.T) {
	for _, topP := range []float64{-0.1, 1.1} {
		req := validRequest()
		req.TopP = topP
		err := validateCompletionRequest(req)
		assert.NotNil(t, err, "top_p=%v should reject", topP)
		assert.Equal(t, "top_p", err.Param)
	}
}

func TestValidateCompletionRequest_MaxTokensMutuallyExclusive(t *testing.T) {
	req := validRequest()
	req.MaxTokens = 100
	req.MaxCompletionTokens = 200
	err := validateCompletionRequest(req)
	assert.NotNil(t, err)
	assert.Equal(t, 400, err.HTTPStatus)
}

func TestValidateCompletionRequest_MaxTokensAloneIsFine(t *testing.T) {
	req := validRequest()
	req.MaxTokens = 100
	assert.Nil(t, validateCompletionRequest(req))

	req2 := validRequest()
	req2.MaxCompletionTokens = 100
	assert.Nil(t, validateCompletionRequest(req2))
}

func TestValidateCompletionRequest_ToolMessageRequiresCallID(t *testing.T) {
	req := validRequest()
	req.Messages = append(req.Messages, types.Message{Role: types.RoleTool, Content: "result"})
	err := validateCompletionRequest(req)
	assert.NotNil(t, err)
	assert.Equal(t, "messages", err.Param)

	req.Messages[len(req.Messages)-1].ToolCallID = "call_1"
	assert.Nil(t, validateCompletionRequest(req))
}

func TestEstimateRequestTokens(t *testing.T) {
	msgs := []types.Message{
		types.NewUserMessage("12345678"), // 8 chars
	}
	assert.Equal(t, 8/4+1, estimateRequestTokens(msgs))
}
