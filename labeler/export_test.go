package labeler

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exportCategories = []LabelCategory{
	{Name: "topic", Labels: []string{"Economy", "Security", "Environment"}},
	{Name: "fallacy_types", Group: GroupRhetoric, Labels: []string{"Straw Man", "Ad Hominem"}},
}

func exportRecord(pos int, text, topic string, score float64) AnalysisRecord {
	return AnalysisRecord{
		Position: pos,
		Text:     text,
		Categories: map[string]CategoryResult{
			"topic": {TopMatch: topic, Score: score},
		},
	}
}

func TestWriteSummaryCSV(t *testing.T) {
	records := []AnalysisRecord{
		exportRecord(0, "Budget, at last", "Economy", 0.91234),
		exportRecord(3, "Border talks", "Security", 2),
	}
	records[1].Categories["fallacy_types"] = CategoryResult{TopMatch: "Straw Man", Score: 0.5}

	var buf bytes.Buffer
	require.NoError(t, WriteSummaryCSV(&buf, exportCategories, records))

	want := "position,text,topic,topic_score,rhetoric_fallacy_types,rhetoric_fallacy_types_score\n" +
		"0,\"Budget, at last\",Economy,0.9123,,\n" +
		"3,Border talks,Security,2.0000,Straw Man,0.5000\n"
	assert.Equal(t, want, buf.String())
}

func TestTally(t *testing.T) {
	records := []AnalysisRecord{
		exportRecord(0, "a", "Security", 1),
		exportRecord(1, "b", "Environment", 1),
		exportRecord(2, "c", "Security", 1),
		exportRecord(3, "d", "Economy", 1),
		exportRecord(4, "e", "Environment", 1),
	}

	got := Tally(records, exportCategories, 2)
	assert.Equal(t, []LabelCount{
		{Label: "Security", Count: 2},
		{Label: "Environment", Count: 2},
	}, got["topic"])
	assert.Empty(t, got["fallacy_types"])

	all := Tally(records, exportCategories, 0)
	require.Len(t, all["topic"], 3)
	assert.Equal(t, "Economy", all["topic"][2].Label)
}

func TestRecordCategories(t *testing.T) {
	records := []AnalysisRecord{
		exportRecord(0, "Budget, at last", "Economy", 0.9),
		exportRecord(1, "Border talks", "Security", 0.8),
	}
	records[1].Categories["custom"] = CategoryResult{TopMatch: "x", Score: 0.1}

	got := RecordCategories(exportCategories, records)
	require.Len(t, got, 2)
	assert.Equal(t, "topic", got[0].Name)
	assert.Equal(t, []string{"Economy", "Security", "Environment"}, got[0].Labels)
	assert.Equal(t, "custom", got[1].Name)

	var buf bytes.Buffer
	require.NoError(t, WriteSummaryCSV(&buf, got, records[:1]))
	assert.Equal(t, "position,text,topic,topic_score,custom,custom_score\n"+
		"0,\"Budget, at last\",Economy,0.9000,,\n", buf.String())

	assert.Empty(t, RecordCategories(exportCategories, nil))
}
