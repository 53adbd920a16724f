package prompt

var builtin = map[string]string{
	Classify: `You route requests for a home and car assistant.
Choose exactly one category for the request.

Categories: {{join .Categories ", "}}
{{if .Examples}}
Labelled examples:
{{range .Examples}}- {{.}}
{{end}}{{end}}
Request: {{.Query}}

Answer with the category name only.`,

	Aggregate: `You are the voice of a home and car assistant.
The user asked: {{.Query}}
The {{.Agent}} agent returned:
{{.Result}}

Reply to the user in one or two short sentences based only on that result.
If the result reports a failure, say what went wrong plainly.`,

	Control: `Translate the request into one JSON command against the device document.

Actions: "get" reads a field, "update" writes a field.
Output format: {"action": "get"|"update", "field_path": "<path>", "new_value": <value, update only>}

Examples:
Request: what is the living room brightness
{"action": "get", "field_path": "lights.living_room.brightness"}
Request: turn the thermostat up to 22
{"action": "update", "field_path": "thermostat.target_temperature", "new_value": 22}
Request: switch off the porch light
{"action": "update", "field_path": "lights.porch.power", "new_value": false}

Candidate field paths:
{{range .Candidates}}- {{.}}
{{end}}
Current values: {{json .Values}}

Request: {{.Query}}
Respond with JSON only.`,

	Navigation: `Decide what the navigation request asks for and answer with one JSON object.

Actions:
- "search": look for places. Fields: "query" (what to search for).
- "confirm_place": the user picked a place. Fields: "place_name" (the name they said),
  "search_query" (a search that would find it again).

Examples:
Request: find coffee nearby
{"action": "search", "query": "coffee"}
Request: take me to Blue Bottle
{"action": "confirm_place", "place_name": "Blue Bottle", "search_query": "Blue Bottle coffee"}
Request: any gas stations around here
{"action": "search", "query": "gas station"}

Request: {{.Query}}
Respond with JSON only.`,

	Media: `Translate the media request into one JSON command.

Actions: play, pause, resume, next, previous, volume.
Output format: {"action": "<action>", "target": "<what to play, play only>", "value": <0-100, volume only>}

Examples:
Request: play some jazz
{"action": "play", "target": "jazz"}
Request: skip this song
{"action": "next"}
Request: turn it down to 30
{"action": "volume", "value": 30}

Request: {{.Query}}
Respond with JSON only.`,

	QA: `Answer the question using the reference passages. If they do not contain
the answer, say you do not know.

Passages:
{{range .Passages}}---
{{.}}
{{end}}---
{{if .History}}
Conversation so far:
{{range .History}}{{.Role}}: {{.Content}}
{{end}}{{end}}
Question: {{.Query}}`,
}
