// Package nli runs a sequence-pair classification model (BART/RoBERTa MNLI
// exports) through ONNX Runtime and returns raw class logits.
package nli

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Config describes the model files and label layout.
type Config struct {
	OrtDLL        string
	ModelPath     string
	TokenizerPath string
	MaxSeqLen     int
	// LabelOrder names the logits in output order, e.g.
	// contradiction, neutral, entailment.
	LabelOrder []string
}

var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnv(dll string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if dll != "" {
			ort.SetSharedLibraryPath(dll)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return
	}
	envRefs--
	if envRefs == 0 {
		_ = ort.DestroyEnvironment()
	}
}

// Model holds a tokenizer and an ORT session. Inference is serialized.
type Model struct {
	mu        sync.Mutex
	tk        *tokenizer.Tokenizer
	session   *ort.DynamicAdvancedSession
	maxSeqLen int
	labels    []string
}

// Init loads the tokenizer and model. It must be paired with Close.
func (m *Model) Init(cfg Config) error {
	if cfg.ModelPath == "" {
		return errors.New("model path is required")
	}
	if cfg.TokenizerPath == "" {
		return errors.New("tokenizer path is required")
	}
	if len(cfg.LabelOrder) == 0 {
		return errors.New("label order is required")
	}
	maxSeqLen := cfg.MaxSeqLen
	if maxSeqLen <= 0 {
		maxSeqLen = 512
	}
	tk, err := loadTokenizer(cfg.TokenizerPath, maxSeqLen)
	if err != nil {
		return err
	}
	if err := acquireEnv(cfg.OrtDLL); err != nil {
		return err
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"}, nil)
	if err != nil {
		releaseEnv()
		return fmt.Errorf("create session: %w", err)
	}
	m.tk = tk
	m.session = session
	m.maxSeqLen = maxSeqLen
	m.labels = append([]string(nil), cfg.LabelOrder...)
	return nil
}

// Close releases the session and the shared environment.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	_ = m.session.Destroy()
	m.session = nil
	releaseEnv()
}

// LabelIndex returns the logit index of name, or -1.
func (m *Model) LabelIndex(name string) int {
	for i, l := range m.labels {
		if strings.EqualFold(l, name) {
			return i
		}
	}
	return -1
}

// Logits classifies the (premise, hypothesis) pair.
func (m *Model) Logits(premise, hypothesis string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, errors.New("model is not initialized")
	}
	ids, mask, err := m.encode(premise, hypothesis)
	if err != nil {
		return nil, err
	}

	n := int64(len(ids))
	inputIDs := make([]int64, n)
	attention := make([]int64, n)
	for i := range ids {
		inputIDs[i] = int64(ids[i])
		attention[i] = int64(mask[i])
	}
	idsT, err := ort.NewTensor(ort.NewShape(1, n), inputIDs)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(ort.NewShape(1, n), attention)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(m.labels))))
	if err != nil {
		return nil, fmt.Errorf("logits tensor: %w", err)
	}
	defer out.Destroy()

	if err := m.session.Run([]ort.Value{idsT, maskT}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	logits := make([]float32, len(m.labels))
	copy(logits, out.GetData())
	return logits, nil
}

// loadTokenizer reads a tokenizer.json and caps pair encodings at maxSeqLen.
// Longest-first truncation trims the premise before the hypothesis.
func loadTokenizer(path string, maxSeqLen int) (*tokenizer.Tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	tk.WithTruncation(&tokenizer.TruncationParams{
		MaxLength: maxSeqLen,
		Strategy:  tokenizer.LongestFirst,
	})
	return tk, nil
}

func (m *Model) encode(premise, hypothesis string) ([]int, []int, error) {
	enc, err := m.tk.EncodePair(premise, hypothesis, true)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenize: %w", err)
	}
	ids := enc.Ids
	mask := enc.AttentionMask
	if len(mask) != len(ids) {
		mask = make([]int, len(ids))
		for i := range mask {
			mask[i] = 1
		}
	}
	return ids, mask, nil
}
