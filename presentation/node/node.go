// Package node implements the workflow host contract: items in, captured items out.
package node

import (
	"context"
	"encoding/base64"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"pagecap-go/domain/capture"
)

// BinaryData is a binary attachment of an item.
type BinaryData struct {
	// Data is the base64 encoded content.
	Data          string `json:"data"`
	MimeType      string `json:"mimeType"`
	FileName      string `json:"fileName"`
	FileExtension string `json:"fileExtension"`
	FileSize      string `json:"fileSize"`
}

// Item is one unit of data flowing through a workflow.
type Item struct {
	JSON   map[string]any         `json:"json"`
	Binary map[string]*BinaryData `json:"binary,omitempty"`
}

// Executor resolves and runs captures.
type Executor interface {
	ResolveParams(base capture.Params, overrides []byte) (capture.Params, error)
	// ExecuteBatch returns artifacts in input order or the first failure.
	ExecuteBatch(ctx context.Context, params []capture.Params) ([]*capture.Artifact, error)
}

// Config holds configuration for a Node.
type Config struct {
	Executor Executor

	// Defaults are the node parameters before presets and item overrides.
	// Nil means capture.DefaultParams.
	Defaults *capture.Params

	Logger *slog.Logger
}

// Node runs one capture per input item.
type Node struct {
	executor Executor
	defaults capture.Params
	logger   *slog.Logger
}

// New creates a new capture node.
func New(cfg *Config) *Node {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	defaults := capture.DefaultParams()
	if cfg.Defaults != nil {
		defaults = *cfg.Defaults
	}
	return &Node{
		executor: cfg.Executor,
		defaults: defaults,
		logger:   cfg.Logger,
	}
}

// Defaults returns the node parameters before presets and item overrides.
func (n *Node) Defaults() capture.Params {
	return n.defaults
}

// Execute resolves every item's parameters, captures them as one batch and
// returns one output item per input in the same order.
// The first failure aborts the run with a *capture.OperationError.
func (n *Node) Execute(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) == 0 {
		return []Item{}, nil
	}

	params := make([]capture.Params, 0, len(items))
	for i, item := range items {
		p, err := n.Params(item)
		if err != nil {
			n.logger.Warn("Invalid item parameters", "item", i, "error", err)
			return nil, capture.NewOperationError(modeOf(p), err)
		}
		params = append(params, p)
	}

	artifacts, err := n.executor.ExecuteBatch(ctx, params)
	if err != nil {
		n.logger.Error("Item capture failed", "items", len(items), "error", err)
		return nil, capture.NewOperationError(modeOf(params[0]), err)
	}

	out := make([]Item, 0, len(artifacts))
	for _, artifact := range artifacts {
		out = append(out, Item{
			JSON: artifact.Metadata,
			Binary: map[string]*BinaryData{
				"data": NewBinaryData(artifact),
			},
		})
	}
	return out, nil
}

// NewBinaryData encodes an artifact as an item attachment.
func NewBinaryData(a *capture.Artifact) *BinaryData {
	return &BinaryData{
		Data:          base64.StdEncoding.EncodeToString(a.Data),
		MimeType:      a.MimeType,
		FileName:      a.FileName,
		FileExtension: strings.TrimPrefix(filepath.Ext(a.FileName), "."),
		FileSize:      humanize.Bytes(uint64(a.Size())),
	}
}

// Decode returns the raw attachment bytes.
func (b *BinaryData) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(b.Data)
}

func modeOf(p capture.Params) capture.Mode {
	if strings.EqualFold(strings.TrimSpace(string(p.Mode)), string(capture.ModeScreenshot)) {
		return capture.ModeScreenshot
	}
	return capture.ModeVideo
}
