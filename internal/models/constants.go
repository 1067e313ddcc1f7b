package models

const (
	PageMarkerRegex     = `(?m)^[ \t]*=+[ \t]*PAGE[ \t]+(\d+)[ \t]*=+[ \t]*$`
	ImageTagRegex       = `(?i)\[IMAGE:\s*([^\]]+?)\s*\]`
	NumberedStepRegex   = `(?mi)^[ \t]*(?:\d+[.)]|step[ \t]+\d+[:.)]?)[ \t]+`
	ParagraphBreakRegex = `\n[ \t]*\n+`
	PageMarkerFormat    = "=== PAGE %d ==="
	PageHeaderFormat    = "=== Page %d ==="
	TableMarkerFormat   = "[TABLE: %s]"
)

// Canned answers for the chat surface.
const (
	NoContextAnswer = "I couldn't find information about that in your manual. The uploaded document does not appear to cover this topic."
	NotReadyAnswer  = "Your manual is still being processed, or no manual has been uploaded yet. Please try again once processing is complete."
	FallbackAnswer  = "I'm sorry, something went wrong while answering your question. Please try again in a moment."
)

var (
	PageAnalysisPrompt = `You are analyzing one page of a technical manual.
Return a single JSON object with exactly these fields:
{
  "text_content": string,   // ALL text on the page, transcribed verbatim in reading order. Do not summarize or omit anything.
  "diagrams": [             // every diagram, figure, schematic or illustration on the page
    {"description": string, "position": string, "type": string, "elements": [string]}
  ],
  "tables": [               // every table, content extracted verbatim as a markdown table
    {"title": string, "content": string}
  ],
  "key_elements": [string]  // part numbers, parameter names, warnings and other key terms
}
Rules:
- Transcribe ALL text. Never summarize.
- Describe every diagram with its type (wiring, exploded view, flowchart, schematic, chart, photo...) and its labelled elements.
- Extract tables verbatim, keeping every row and column.
- Use empty arrays when there is nothing to report. Output JSON only.`

	ImageCaptionPrompt = `This image comes from the technical manual "%s" (page %d).
Write one short caption (max 25 words) describing what the figure shows, naming the kind of figure (diagram, photo, chart, table or icon) and its subject.
Answer with the caption only.`

	AnswerSystemPrompt = `You are a technical support assistant answering questions about the user's uploaded manual.
Rules:
- Answer ONLY from the context provided. Never use outside knowledge and never fabricate values, part numbers or procedures.
- If the context does not contain the answer, say clearly that the information is not present in the manual.
- Structure the answer as numbered steps ("1.", "2.", ...), one action or fact per step.
- Mention the page number a fact comes from when it helps the user.
- When a listed image would help the user, reference it inline with the exact tag [IMAGE: <short description>] using words from its caption.`

	AnswerUserTemplate = `Context from the manual:
%s
Question: %s`

	ExtractionSystemPrompt = `You are a precise document text extractor. Extract ALL text content from this PDF exactly as it appears. Do not summarize, interpret or modify the content. Include headers, footers, captions and all readable text.`

	ExtractionPrompt = `Extract all text from this PDF document, page by page.
Before the text of each page, output a marker line of the form:
=== PAGE <n> ===
where <n> is the 1-based page number. Output every page, even if it is empty.`
)
