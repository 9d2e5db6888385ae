package nli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordPieceTokenizer is a minimal BERT-style tokenizer.json.
const wordPieceTokenizer = `{
  "version": "1.0",
  "truncation": null,
  "padding": null,
  "added_tokens": [
    {"id": 0, "content": "[PAD]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 1, "content": "[UNK]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 2, "content": "[CLS]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true},
    {"id": 3, "content": "[SEP]", "single_word": false, "lstrip": false, "rstrip": false, "normalized": false, "special": true}
  ],
  "normalizer": {"type": "BertNormalizer", "clean_text": true, "handle_chinese_chars": true, "strip_accents": false, "lowercase": true},
  "pre_tokenizer": {"type": "BertPreTokenizer"},
  "post_processor": {"type": "BertProcessing", "sep": ["[SEP]", 3], "cls": ["[CLS]", 2]},
  "decoder": {"type": "WordPiece", "prefix": "##", "cleanup": true},
  "model": {
    "type": "WordPiece",
    "unk_token": "[UNK]",
    "continuing_subword_prefix": "##",
    "max_input_chars_per_word": 100,
    "vocab": {
      "[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3,
      "markets": 4, "this": 5, "is": 6, "about": 7, "economy": 8, ".": 9
    }
  }
}`

func newTestModel(t *testing.T, maxSeqLen int) *Model {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, os.WriteFile(path, []byte(wordPieceTokenizer), 0o644))
	tk, err := loadTokenizer(path, maxSeqLen)
	require.NoError(t, err)
	return &Model{tk: tk, maxSeqLen: maxSeqLen}
}

func TestEncodeLongPremiseKeepsHypothesis(t *testing.T) {
	m := newTestModel(t, 32)
	premise := strings.Repeat("markets ", 600)

	ids, mask, err := m.encode(premise, "This is about Economy.")
	require.NoError(t, err)

	require.Len(t, ids, 32)
	assert.Len(t, mask, 32)
	assert.Equal(t, 2, ids[0], "[CLS] leads")
	// [SEP] this is about economy . [SEP]
	assert.Equal(t, []int{3, 5, 6, 7, 8, 9, 3}, ids[len(ids)-7:])
	assert.Equal(t, 4, ids[1], "premise is trimmed, not dropped")
}

func TestEncodeShortPairUntouched(t *testing.T) {
	m := newTestModel(t, 32)

	ids, mask, err := m.encode("Markets", "This is about Economy.")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 3, 5, 6, 7, 8, 9, 3}, ids)
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1, 1, 1, 1}, mask)
}

func TestModelRequiresPaths(t *testing.T) {
	var m Model
	require.Error(t, m.Init(Config{}))
	require.Error(t, m.Init(Config{ModelPath: "model.onnx"}))
	require.Error(t, m.Init(Config{ModelPath: "model.onnx", TokenizerPath: "tokenizer.json"}))

	_, err := m.Logits("a", "b")
	require.Error(t, err)
	m.Close()
}

func TestLabelIndex(t *testing.T) {
	m := Model{labels: []string{"contradiction", "neutral", "entailment"}}
	assert.Equal(t, 2, m.LabelIndex("Entailment"))
	assert.Equal(t, 0, m.LabelIndex("contradiction"))
	assert.Equal(t, -1, m.LabelIndex("unknown"))
}
