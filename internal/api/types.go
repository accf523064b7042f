package api

import "github.com/samcharles93/qmatmul/internal/device"

// QuantMatmulRequest is the body of POST /v1/quant_matmul. A is M×K
// row-major. B is K×N, column-major unless BLayout is "row_major". The
// scales are given as float32 and rounded to bf16.
type QuantMatmulRequest struct {
	M             int       `json:"m"`
	N             int       `json:"n"`
	K             int       `json:"k"`
	A             []int8    `json:"a"`
	B             []int8    `json:"b"`
	BLayout       string    `json:"b_layout,omitempty"`
	Scale         []float32 `json:"scale"`
	PerTokenScale []float32 `json:"per_token_scale"`
	BlockNum      int       `json:"block_num,omitempty"`
	// Verify compares the output against the host reference.
	Verify bool `json:"verify,omitempty"`
}

// Run statuses.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunResponse describes one launch.
type RunResponse struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	CreatedAt int64          `json:"created_at"`
	Status    string         `json:"status"`
	Shape     string         `json:"shape"`
	Variant   string         `json:"variant"`
	BlockNum  int            `json:"block_num"`
	ElapsedMS float64        `json:"elapsed_ms"`
	Output    []float32      `json:"output,omitempty"`
	Verified  *bool          `json:"verified,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// RunList is the body of GET /v1/runs.
type RunList struct {
	Object string        `json:"object"`
	Data   []RunResponse `json:"data"`
}

// DeviceResponse is the body of GET /v1/device.
type DeviceResponse struct {
	Object string      `json:"object"`
	Device device.Info `json:"device"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
