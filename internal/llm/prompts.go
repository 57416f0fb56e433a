package llm

const entityExtractionPrompt = `Extract the named entities from the text below.

Return JSON of the form:
{"entities": [{"name": "...", "type": "...", "confidence": 0.0}]}

Rules:
- type is one of: person, organization, technology, concept, location, event, file, function, other
- confidence is your certainty in [0,1] that this is a real, specific entity
- extract proper nouns, technologies, file names, and function names
- skip pronouns, generic nouns, and conversational filler

Text:
%s`

const entityClassificationPrompt = `Classify each entity name into exactly one type.

Names: %s

Return JSON of the form:
{"classifications": [{"name": "...", "type": "...", "confidence": 0.0}]}

type is one of: person, organization, technology, concept, location, event, file, function, other.
Use the exact input name in each result.`

const summarizePrompt = `Summarize the following related memory episodes into one concise
paragraph of at most 300 characters. Preserve concrete names, decisions, and
outcomes; drop greetings and filler.

Episodes:
%s

Respond with the summary text only.`
