package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openbtps/btps-go/agent"
	"github.com/openbtps/btps-go/envelope"
	"github.com/openbtps/btps-go/resolver"
	"github.com/openbtps/btps-go/transport/conn"
	"github.com/openbtps/btps-go/wire"
)

var (
	sendFrom       string
	sendAgentID    string
	sendKeyFile    string
	sendAction     string
	sendDocument   string
	sendEncrypt    bool
	sendOAEPSHA256 bool
)

var sendCmd = &cobra.Command{
	Use:   "send [to]",
	Short: "Sign and send an agent command to a receiver identity",
	Long: `Send builds an Agent Artifact for the given action and document, signs
it with the --key private key, and delivers it over a fresh Connection
Engine, printing the server's response as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendFrom, "from", "", "sender identity, account$domain (required)")
	sendCmd.Flags().StringVar(&sendAgentID, "agent-id", "btpsctl", "agent id recorded on the Agent Artifact")
	sendCmd.Flags().StringVar(&sendKeyFile, "key", "", "PEM file holding the sender's RSA private key (required)")
	sendCmd.Flags().StringVar(&sendAction, "action", string(wire.ActionArtifactSend), "agent action")
	sendCmd.Flags().StringVar(&sendDocument, "document", "", "path to a JSON document file, or \"-\" for stdin (required)")
	sendCmd.Flags().BoolVar(&sendEncrypt, "encrypt", false, "hybrid-encrypt the document for the receiver")
	sendCmd.Flags().BoolVar(&sendOAEPSHA256, "oaep-sha256", false, "use SHA-256 for RSA-OAEP key wrapping instead of the SHA-1 default")

	sendCmd.MarkFlagRequired("from")
	sendCmd.MarkFlagRequired("key")
	sendCmd.MarkFlagRequired("document")
}

func runSend(cmd *cobra.Command, args []string) error {
	to, err := wire.ParseIdentity(args[0])
	if err != nil {
		return fmt.Errorf("invalid receiver identity: %w", err)
	}
	from, err := wire.ParseIdentity(sendFrom)
	if err != nil {
		return fmt.Errorf("invalid --from identity: %w", err)
	}

	keyPEM, err := os.ReadFile(sendKeyFile)
	if err != nil {
		return fmt.Errorf("read --key: %w", err)
	}
	priv, err := envelope.ParseRSAPrivateKeyPEM(string(keyPEM))
	if err != nil {
		return fmt.Errorf("parse --key: %w", err)
	}

	var docBytes []byte
	if sendDocument == "-" {
		docBytes, err = io.ReadAll(os.Stdin)
	} else {
		docBytes, err = os.ReadFile(sendDocument)
	}
	if err != nil {
		return fmt.Errorf("read --document: %w", err)
	}
	var document any
	if err := json.Unmarshal(docBytes, &document); err != nil {
		return fmt.Errorf("--document is not valid JSON: %w", err)
	}

	res := resolver.New(cfg.Resolver.ToResolverConfig())
	connCfg, err := cfg.Engine.ToConnConfig()
	if err != nil {
		return fmt.Errorf("build connection config: %w", err)
	}
	engine := conn.New(connCfg, res)
	defer engine.Destroy()

	a := agent.New(from, sendAgentID, priv, res, engine)

	oaep := envelope.OAEPSHA1
	if sendOAEPSHA256 {
		oaep = envelope.OAEPSHA256
	}

	resp, doc, err := a.Command(context.Background(), agent.CommandOptions{
		Action:   wire.AgentAction(sendAction),
		To:       to,
		Document: document,
		Encrypt:  sendEncrypt,
		OAEPHash: oaep,
	})
	if err != nil {
		return fmt.Errorf("command failed: %w", err)
	}

	out := struct {
		Response *wire.ServerResponse `json:"response"`
		Document json.RawMessage      `json:"document,omitempty"`
	}{Response: resp, Document: doc}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
