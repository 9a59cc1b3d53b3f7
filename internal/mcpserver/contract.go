package mcpserver

// PageFormatContract describes the wiki text conventions the backlink index
// understands. LLM consumers should follow it when saving pages.
const PageFormatContract = `# Page Format Guide

Pages are plain wiki text stored under a lower-case, colon-separated id.

## Page ids

- Namespaces are separated by ` + "`" + `:` + "`" + `: ` + "`" + `wiki:syntax` + "`" + ` is page ` + "`" + `syntax` + "`" + ` in namespace ` + "`" + `wiki` + "`" + `.
- Ids are lower-case. Spaces become ` + "`" + `_` + "`" + `; other punctuation except ` + "`" + `.` + "`" + `, ` + "`" + `-` + "`" + ` and ` + "`" + `_` + "`" + ` is dropped.
- A namespace's landing page is ` + "`" + `<namespace>:start` + "`" + `.

## Title

The first heading is the page title:

` + "```" + `
====== Weekly standup ======
` + "```" + `

## Links

| Written            | On page ` + "`" + `team:notes` + "`" + ` points to |
|--------------------|-------------------------------|
| ` + "`" + `[[:wiki:syntax]]` + "`" + `  | ` + "`" + `wiki:syntax` + "`" + ` (absolute)          |
| ` + "`" + `[[wiki:syntax]]` + "`" + `   | ` + "`" + `wiki:syntax` + "`" + ` (absolute)          |
| ` + "`" + `[[roadmap]]` + "`" + `       | ` + "`" + `team:roadmap` + "`" + ` (same namespace)   |
| ` + "`" + `[[.:roadmap]]` + "`" + `     | ` + "`" + `team:roadmap` + "`" + `                    |
| ` + "`" + `[[..:home]]` + "`" + `       | ` + "`" + `home` + "`" + ` (one namespace up)         |
| ` + "`" + `[[~draft]]` + "`" + `        | ` + "`" + `team:notes:draft` + "`" + ` (below this page) |
| ` + "`" + `[[projects:]]` + "`" + `     | ` + "`" + `projects:start` + "`" + `                  |
| ` + "`" + `[[a:b|label]]` + "`" + `     | ` + "`" + `a:b` + "`" + `, shown as "label"          |
| ` + "`" + `[[a:b#section]]` + "`" + `   | ` + "`" + `a:b` + "`" + `                             |

Not indexed: external URLs, ` + "`" + `mailto:` + "`" + ` and e-mail links, interwiki links
(` + "`" + `[[wp>Go]]` + "`" + `), Windows shares, links to the page itself, and anything inside
` + "`" + `<nowiki>` + "`" + `, ` + "`" + `%%...%%` + "`" + `, ` + "`" + `<code>` + "`" + `, ` + "`" + `<file>` + "`" + ` or ` + "`" + `<html>` + "`" + `.

## Backlinks block

` + "```" + `
{{backlinks>.}}                 pages linking here
{{backlinks>wiki:syntax#wiki}}  only pages in namespace wiki
{{backlinks>.#!private}}        everything except namespace private
` + "```" + `

## Rules

1. **Encoding** is UTF-8. Binary content is rejected and the page is not saved.
2. Renaming a page does not rewrite links on other pages; update them explicitly.
3. Use ` + "`" + `if_match` + "`" + ` with the checksum returned by the last save to avoid
   overwriting someone else's edit.
`
