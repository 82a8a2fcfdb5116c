//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

func TestRoundTripAgainstManagedClient(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	js, err := tc.Client.JetStream()
	if err != nil {
		t.Fatalf("JetStream() error = %v", err)
	}

	collections, err := NewCollections(ctx, js, "NC_IT_COLLECTIONS")
	if err != nil {
		t.Fatalf("NewCollections() error = %v", err)
	}
	scoped, err := collections.Scoped("it")
	if err != nil {
		t.Fatalf("Scoped() error = %v", err)
	}

	if err := scoped.WriteWhole(ctx, PathFamilyName, "Família Teste"); err != nil {
		t.Fatalf("WriteWhole() error = %v", err)
	}
	data, err := scoped.Read(ctx, PathFamilyName)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `"Família Teste"` {
		t.Errorf("Read() = %s, want quoted family name", data)
	}

	docs, err := NewDocuments(ctx, js, "NC_IT_TRANSACOES")
	if err != nil {
		t.Fatalf("NewDocuments() error = %v", err)
	}
	id, err := docs.CreateDocument(ctx, map[string]any{"descricao": "teste", "pago": false})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if err := docs.PatchDocument(ctx, id, map[string]any{"pago": true}); err != nil {
		t.Fatalf("PatchDocument() error = %v", err)
	}
	doc, err := docs.GetDocument(ctx, id)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if doc.Fields["pago"] != true || doc.Fields["descricao"] != "teste" {
		t.Errorf("GetDocument() fields = %v", doc.Fields)
	}
	if err := docs.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
}
