package llm

const synthesizeSystem = "You are a research synthesis agent. You merge new research findings into a living truth document, detecting contradictions against existing claims."

const synthesizePrompt = `Merge the new research findings into the existing truth document.

%s
ROUND: %d

EXISTING TRUTH DOCUMENT (empty for the first round):
<existing_truth>
%s
</existing_truth>

NEW FINDINGS (in submission order, finding_index starts at 0):
<new_findings>
%s
</new_findings>

APPROACH:
1. Group existing and new claims by topic.
2. If a new claim semantically conflicts with an existing active claim, set
   "invalidates" to the EXACT text of that existing claim. The new claim
   becomes current; never drop or rewrite the old one.
3. Non-conflicting new claims are plain additions.
4. Write one short "evolution" line summarizing what this round changed.
5. Confidence is one of "high", "medium", "low".

Respond ONLY with JSON, no markdown fences:
{
  "strategic_context": "1-2 sentence summary of where the inquiry stands",
  "claims": [
    {"text": "...", "topic": "...", "confidence": "high", "invalidates": "", "finding_index": 0, "sources": ["..."]}
  ],
  "evolution": "one line describing what changed this round"
}

An empty "claims" array is valid when the findings only confirm existing claims.`

const critiqueSystem = "You are a critical analyst evaluating research quality. AI tends to be agreeable; you are the counterbalance. Identify gaps and weaknesses to strengthen the research, not to dismiss it."

const critiquePrompt = `Critically analyze these research findings. Do NOT summarize them; find what is weak or missing.

%s
ROUND: %d

FINDINGS:
<findings>
%s
</findings>

WHAT TO FLAG:
- Weak evidence: cherry-picked data, single sources, outdated citations
- Logical gaps: conclusions that do not follow, correlation read as causation
- Unstated assumptions: hidden beliefs that could be wrong
- Unanswered questions: critical gaps for follow-on research

Severity is one of "critical", "major", "minor".

Respond ONLY with JSON, no markdown fences:
{
  "strengths": ["..."],
  "gaps": [
    {"gap_description": "...", "severity": "major", "relevant_to": "which finding or topic"}
  ],
  "next_steps": ["..."]
}`

// schemaRepairNote is prepended on the single automatic retry after a
// schema-invalid response.
const schemaRepairNote = `YOUR PREVIOUS RESPONSE DID NOT MATCH THE REQUIRED JSON SCHEMA (%s).
Respond again with ONLY valid JSON matching the schema exactly. No markdown fences, no commentary.
`
