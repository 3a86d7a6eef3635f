package extractor

const systemPrompt = `Extract the following project information from the provided text and return ONLY a valid JSON object.

Required fields:
- location: geographic location (country, region, or coordinates)
- project_type: type of project or commodity (e.g. "cotton farming", "agroforestry", "coffee")
- outcomes: list of expected outcomes or goals
- budget: budget level ("low", "medium" or "high") or the amount as written
- capacity: technical capacity level ("basic", "intermediate" or "advanced")

Return format (JSON only, no other text):
{
    "location": "...",
    "project_type": "...",
    "outcomes": ["...", "..."],
    "budget": "...",
    "capacity": "..."
}

If a field cannot be determined from the text, use null for that field and [] for outcomes.`
