package chat

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/edaloom/internal/ai"
	"github.com/KaramelBytes/edaloom/internal/dataset"
	"github.com/KaramelBytes/edaloom/internal/utils"
)

// SchemaName labels the structured response for providers that name schemas.
const SchemaName = "eda_response"

// SystemInstruction frames the model as an EDA assistant and fixes the
// response contract.
const SystemInstruction = `You are an expert data analyst specialized in Exploratory Data Analysis (EDA).
You help the user understand a tabular dataset they uploaded. You receive the file name, its shape, its columns, a per-column profile and a sample of rows.

Always answer with a single JSON object of the form:
{"response": [{"type": "text" | "chart", "content": "..."}], "followUpQuestions": ["...", "...", "..."]}

Rules for "text" blocks:
- content is GitHub-flavored markdown. Use headings, lists and tables where they help.
- Be concrete: cite column names, counts and values from the data you were given.

Rules for "chart" blocks:
- content is a Vega-Lite v5 specification serialized as a JSON string.
- Never include a "data" property; the sample rows are attached automatically as the chart's data values.
- Use the column names exactly as they appear in the dataset.
- Prefer simple, readable charts (bar, line, point, boxplot, histogram via binning) with titles and axis labels.
- Do not set width or height; the chart is sized to its container.

Rules for "followUpQuestions":
- Suggest exactly three short questions the user could ask next about this dataset.

Remember that the rows you see are a sample. Say so when a conclusion depends on the full dataset.`

// InitialPrompt requests the opening analysis of a freshly loaded dataset.
const InitialPrompt = `Start the analysis of this dataset. Describe its structure and column types, point out data-quality issues such as missing or inconsistent values, highlight notable patterns or distributions, and include at least one chart.`

// ResponseSchema is the structured-output contract sent to runtimes that
// support it.
var ResponseSchema = &ai.Schema{
	Type:     ai.TypeObject,
	Required: []string{"response", "followUpQuestions"},
	Properties: map[string]*ai.Schema{
		"response": {
			Type:        ai.TypeArray,
			Description: "Ordered content blocks of the answer.",
			Items: &ai.Schema{
				Type:     ai.TypeObject,
				Required: []string{"type", "content"},
				Properties: map[string]*ai.Schema{
					"type": {
						Type: ai.TypeString,
						Enum: []string{"text", "chart"},
					},
					"content": {
						Type:        ai.TypeString,
						Description: "Markdown for text blocks, a Vega-Lite JSON specification for chart blocks.",
					},
				},
			},
		},
		"followUpQuestions": {
			Type:        ai.TypeArray,
			Description: "Three suggested follow-up questions.",
			Items:       &ai.Schema{Type: ai.TypeString},
		},
	},
}

// DatasetContext renders the dataset preamble sent with the opening prompt.
func DatasetContext(ds *dataset.Dataset) string {
	var b strings.Builder
	m := ds.Meta
	b.WriteString("[DATASET]\n")
	b.WriteString(fmt.Sprintf("File: %s\n", m.Filename))
	b.WriteString(fmt.Sprintf("Rows: %d\n", m.RowCount))
	b.WriteString(fmt.Sprintf("Columns (%d): %s\n\n", m.ColumnCount, strings.Join(m.Columns, ", ")))

	b.WriteString(fmt.Sprintf("[COLUMN PROFILE] (computed over %d sample rows)\n", len(ds.Sample)))
	b.WriteString(dataset.ProfileText(dataset.Profile(ds)))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("[SAMPLE ROWS] (first %d of %d, JSON)\n", len(ds.Sample), m.RowCount))
	sample, err := utils.PrettyJSON(ds.Sample)
	if err != nil {
		sample = []byte("[]")
	}
	b.Write(sample)
	b.WriteString("\n")
	return b.String()
}
