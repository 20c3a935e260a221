// Command mirror-tool is a tiny stdio tool server for local smoke-testing
// (the end-to-end test uses its own in-binary helper instead): it hosts a couple of demonstration tools over the
// Model Context Protocol so a real Subprocess Adapter has something to talk
// to without standing up an external dependency.
//
// Grounded on cmd/orbitmesh-mcp/main.go's mcp.NewServer + mcp.StdioTransport
// wiring.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "mirror-tool"
	serverVersion = "1.0.0"
)

type EchoArgs struct {
	Text string `json:"text" jsonschema:"description=Text to echo back,required"`
}

type SumArgs struct {
	Values []float64 `json:"values" jsonschema:"description=Numbers to add,required"`
}

func echo(ctx context.Context, req *mcp.CallToolRequest, args EchoArgs) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: args.Text}},
	}, nil, nil
}

func sum(ctx context.Context, req *mcp.CallToolRequest, args SumArgs) (*mcp.CallToolResult, any, error) {
	var total float64
	for _, v := range args.Values {
		total += v
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%g", total)}},
	}, nil, nil
}

func main() {
	impl := &mcp.Implementation{Name: serverName, Version: serverVersion}
	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echo the given text back unchanged",
	}, echo)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "sum",
		Description: "Add a list of numbers together",
	}, sum)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("mirror-tool: %v", err)
	}
}
