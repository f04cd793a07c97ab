package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/facturaIA/dte-extraction-service/internal/db"
)

func TestBatchReprocessor(t *testing.T) {
	good, bad, missing := uuid.New(), uuid.New(), uuid.New()

	store := new(mockStore)
	store.On("ListPendingDocuments", mock.Anything, "andes", 10).Return([]db.Document{
		{ID: good}, {ID: bad}, {ID: missing},
	}, nil)
	store.On("GetDocument", mock.Anything, "andes", good).
		Return(&db.Document{ID: good, RawText: sampleInvoice, FuenteTexto: "native-text"}, nil)
	store.On("GetDocument", mock.Anything, "andes", bad).
		Return(&db.Document{ID: bad, RawText: "documento sin datos"}, nil)
	store.On("GetDocument", mock.Anything, "andes", missing).
		Return(&db.Document{ID: missing}, nil)
	store.On("ApplyExtraction", mock.Anything, "andes", good, mock.Anything).Return(nil)
	store.On("MarkDocumentError", mock.Anything, "andes", bad, ErrNoFields.Error()).Return(nil)

	proc := NewProcessor(ProcessorConfig{Acquirer: new(mockAcquirer), Store: store})
	report, err := NewBatchReprocessor(proc, 2).Run(context.Background(), "andes", 10)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Procesados)
	assert.Equal(t, 2, report.Errores)

	byID := map[uuid.UUID]BatchItem{}
	for _, item := range report.Items {
		byID[item.DocumentID] = item
	}
	assert.Equal(t, db.EstadoProcesado, byID[good].Estado)
	assert.True(t, byID[good].ReadyForSII)
	assert.Equal(t, db.EstadoError, byID[bad].Estado)
	assert.Equal(t, ErrNoFields.Error(), byID[bad].Error)
	assert.Equal(t, ErrNoSourceFile.Error(), byID[missing].Error)
	store.AssertExpectations(t)
}

func TestBatchReprocessorListError(t *testing.T) {
	store := new(mockStore)
	store.On("ListPendingDocuments", mock.Anything, "andes", 0).Return(nil, errors.New("db down"))

	proc := NewProcessor(ProcessorConfig{Store: store})
	_, err := NewBatchReprocessor(proc, 0).Run(context.Background(), "andes", 0)
	assert.EqualError(t, err, "db down")
}

func TestBatchReprocessorWithoutStore(t *testing.T) {
	_, err := NewBatchReprocessor(NewProcessor(ProcessorConfig{}), 1).Run(context.Background(), "andes", 5)
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestBatchReprocessorEmpty(t *testing.T) {
	store := new(mockStore)
	store.On("ListPendingDocuments", mock.Anything, "andes", 5).Return([]db.Document{}, nil)

	report, err := NewBatchReprocessor(NewProcessor(ProcessorConfig{Store: store}), 1).Run(context.Background(), "andes", 5)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Empty(t, report.Items)
}
