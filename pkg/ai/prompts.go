package ai

const SpeakerPrompt = `
# Task Context
You are a helpful assistant specialized in identifying who is speaking in podcast transcripts. You will be provided with a numbered list of transcript segments; some already carry a speaker label, others do not.

# Background Data
Known speakers so far: [%s]

Segments:
%s

# Detailed Task Description & Rules
- Assign a speaker label to every segment that has none, using conversational context (questions vs. answers, self-references, names mentioned by other speakers).
- Reuse the known speaker labels whenever the context supports it.
- When no specific name can be inferred, use a generic but consistent label such as "Host", "Guest" or "Speaker 1". Generic labels are acceptable; never leave a segment unassigned.
- Never invent speakers that the conversation gives no evidence for.
- Keep labels consistent: the same voice must receive the same label across all segments.

# Output Formatting
Return a JSON object with this structure:
{
  "assignments": [
    {"segment_index": <int>, "speaker": "<label>"}
  ]
}
Output must be valid JSON only (no commentary, no extra text).
`

const ConversationPrompt = `
# Task Context
You are an assistant that analyzes the structure of podcast conversations. You will be provided with a numbered list of transcript segments including their speakers.

# Background Data
Segments:
%s

# Detailed Task Description & Rules
- Group the conversation into topical themes. Each theme covers a contiguous or near-contiguous run of segments that discuss one subject.
- Every segment index you return must come from the provided list; never reference indices outside it.
- Themes should be specific ("Morning routine habits", not "Discussion").
- Cover the whole conversation: every segment should fall into at least one theme unless it is pure filler.
- Also produce a short description of how the conversation flows from theme to theme.

# Output Formatting
Return a JSON object with this structure:
{
  "themes": [
    {"name": "<theme name>", "segment_indices": [<int>, ...]}
  ],
  "flow_description": "<one paragraph>"
}
Output must be valid JSON only (no commentary, no extra text).
`

const ExtractPrompt = `
# Task Context
You are a knowledge extraction assistant for podcast transcripts. You will be provided with one meaningful unit of conversation: a coherent span of the episode with speaker attribution and timestamps.

# Background Data
Episode: %s
Unit time range: %.1fs - %.1fs
Speakers: [%s]

Unit transcript:
%s

# Detailed Task Description & Rules
- Extract entities: any person, organization, product, concept, work, event or other notable thing. Use whatever type string describes the entity best; you are not limited to a fixed list. Prefer specific types ("RESEARCHER") over generic ones ("PERSON") when the text supports them.
- Extract quotes: verbatim statements worth preserving, with the speaker who said them and an importance score.
- Extract insights: distilled non-obvious observations, lessons or claims made in the unit.
- Extract relationships between the entities you found, with a free-form relationship type in UPPER_SNAKE_CASE.
- Every confidence and importance value is a number between 0 and 1.
- Only extract what the text actually supports. An empty array is a valid answer for any field.

# Output Formatting
Return a single JSON object with this structure:
{
  "entities": [
    {"type": "<open type string>", "value": "<name>", "confidence": <0-1>, "description": "<short description>"}
  ],
  "quotes": [
    {"text": "<verbatim quote>", "speaker": "<label>", "quote_type": "<e.g. opinion, anecdote, claim>", "importance_score": <0-1>, "confidence": <0-1>}
  ],
  "insights": [
    {"text": "<insight>", "insight_type": "<e.g. lesson, observation, prediction>", "importance": <0-1>, "confidence": <0-1>, "themes": ["<theme>"]}
  ],
  "conversation_structure": {
    "relationships": [
      {"source": "<entity value>", "target": "<entity value>", "type": "<UPPER_SNAKE_CASE>", "description": "<why related>"}
    ],
    "themes": ["<theme>"]
  }
}
Output must be valid JSON only (no commentary, no extra text).
`

const DescribePrompt = `
# Task Context
You are an assistant that writes short listing-page descriptions for podcast episodes.

# Background Data
Episode title: %s
Themes: [%s]
Conversation flow: %s

# Detailed Task Description & Rules
- Write two to three sentences describing what the episode covers.
- Use plain language, do not address the reader and do not mention that this is a transcript or an AI summary.
- Mention only what the themes and flow actually support.

# Output Formatting
Return the description as plain text only (no JSON, no quotes, no commentary).
`

const SentimentPrompt = `
# Task Context
You are an assistant that rates the emotional tone of a span of podcast conversation.

# Background Data
Speakers: [%s]

Unit transcript:
%s

# Detailed Task Description & Rules
- Judge the overall polarity of the unit: "positive", "negative", "neutral" or "mixed".
- Score is a number from -1 (strongly negative) to 1 (strongly positive).
- Emotions and attitudes map label to intensity between 0 and 1 (e.g. {"excitement": 0.7}).
- Energy level reflects how animated the speakers are; engagement level reflects how invested they are in the exchange. Both are numbers between 0 and 1.
- All numeric fields must be numbers, not words.

# Output Formatting
Return a JSON object with this structure:
{
  "polarity": "<positive|negative|neutral|mixed>",
  "score": <-1..1>,
  "emotions": {"<label>": <0-1>},
  "attitudes": {"<label>": <0-1>},
  "energy_level": <0-1>,
  "engagement_level": <0-1>
}
Output must be valid JSON only (no commentary, no extra text).
`
