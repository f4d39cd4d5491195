// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Only the two endpoints the chat client needs are covered: /api/tags for
// the installed models and /api/chat, streaming or not.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ChatRequest: model plus the full conversation history
//   - ChatStream: reader over one NDJSON streaming reply
//   - ClientError: categorized failure (not running, timeout, ...)
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	stream, err := client.OpenChatStream(ctx, ollama.ChatRequest{
//	    Model:    "llama3.2",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//	for {
//	    fragment, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(fragment)
//	}
//
// Each NDJSON line carries an incremental fragment of the reply in
// message.content. Lines are reassembled across network chunks; malformed
// lines are logged and skipped.
package ollama
