package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// Funcs are available to every prompt template, including user supplied ones.
var Funcs = template.FuncMap{
	"json":     toJSON,
	"inc":      func(i int) int { return i + 1 },
	"numbered": numbered,
	"join":     strings.Join,
}

func toJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSpace(buf.String())
}

func numbered(items []string) string {
	var b strings.Builder
	for i, s := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Parse compiles a named template with Funcs.
func Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(Funcs).Option("missingkey=error").Parse(text)
}

func Render(tpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", tpl.Name(), err)
	}
	return buf.String(), nil
}

func mustParse(name, text string) *template.Template {
	return template.Must(Parse(name, text))
}

// Pair is one numbered question with the intents it should express.
type Pair struct {
	Question string
	Intents  any
}

type NaturalData struct {
	Questions []string
}

type CorrectData struct {
	Pairs []Pair
}

type RewriteData struct {
	Input      string
	Intentions any
	History    []string
}

type RelevantData struct {
	Intentions []string
}

type ExampleData struct {
	Keywords []string
}

type AlpacaData struct {
	Instruction string
	Input       string
	Output      string
}

var Natural = mustParse("natural", `
请你对下面的#问题#列表进行打分，评价其自然程度以及语法正确性。
你应该给出一个1-10的分数，10分表示自然度较高，语法正确，而1分表示自然度较低，语法不正确。
请返回一个分数列表，表示每一个问题的分数，用[]包裹，不要提供任何其他原因，且分数不要出现在回答中。

#问题#：
{{json .Questions}}
#分数#：
`)

var Correct = mustParse("correct", `
请你单独评价下面的每一对#问题#是否包含对应编号的所有#意图#。
你应该给出一个1-10的分数，10分表示#问题#包含所有意图，1分表示存在#问题#中缺少#意图#中的某一个。
请返回一个分数列表，表示每一个问题的分数，用[]包裹，不要提供任何其他原因，且分数不要出现在回答中。

{{range $i, $p := .Pairs}}#问题{{inc $i}}#
{{$p.Question}}
#意图{{inc $i}}#
{{json $p.Intents}}

{{end}}#分数#：
`)

var Lazy = mustParse("lazy", `
Your Objective is to rewrite a #Given Prompt# into an easier one to imitate a lazy user's input question.
#Rewritten Prompt# MUST contain ALL the #intentions# and
removing all the sentences that does not contain the key words of #intentions#.
The #Rewritten Prompt# MUST be natural and not too verbose.
Also, the #Rewritten Prompt# MUST be different from the #Given Prompt# and #Previous Generated Prompts#.
#Rewritten Prompt# should be written in Chinese.

Example:
#Given Prompt#: 宠粉日是什么时候，有没有什么优惠活动呢？
#intentions#: ["宠粉日", "优惠活动"]
#Previous Generated Prompts#:
1. 啥事宠粉日，有什么活动吗？
2. 宠粉日是几号，可以参加什么活动？
#Rewritten Prompt#: 宠粉日是什么？有啥优惠活动？

#Given Prompt#: {{.Input}}
#intentions#: {{json .Intentions}}
#Previous Generated Prompts#:
{{numbered .History}}
#Rewritten Prompt#:
`)

var Implicit = mustParse("implicit", `
I want you act as a Prompt Rewriter.
Your objective is to rewrite a #Given Prompt# into a more implicit version.
Implicit means that the prompt does not necessarily contain the key words in #intentions# but still contains the same intentions.
But the #Rewritten Prompt# MUST be natural and not too verbose to imitate a real user input.
Also, the #Rewritten Prompt# MUST be different from the #Given Prompt# and #Previous Generated Prompts#.
#Rewritten Prompt# should be written in Chinese.

Example:
#Given Prompt#: 我怎么邀请我的朋友一起攒云朵？
#intentions#: ["邀好友集云朵"]
#Previous Generated Prompts#:
1. 我想邀请朋友一起攒云朵
2. 如何拉好友收集云朵？
#Rewritten Prompt#: 怎样去邀请其他人去收集云朵？

#Given Prompt#: {{.Input}}
#intentions#: {{json .Intentions}}
#Previous Generated Prompts#:
{{numbered .History}}
#Rewritten Prompt#:
`)

var Relevant = mustParse("relevant", `
We would like you to evaluate the relevance and interconnectivity between the following intentions.
You should give an overall score on a scale of 1 to 10, where a higher score indicates higher relevance and interconnectivity,
while the lower the score, the less relevant they are.
You must just give a score without any other reasons.
## Intentions:
{{json .Intentions}}
## Score:
`)

var Example = mustParse("example", `
假设你是一名用户，请你模拟真实环境下，根据#关键词#，输出#用户输入#，
要求：生成的#用户输入#中必须包含有所有的#关键词#
#用户输入#的提问方式可以各种各样，例如“如何”，“怎样”，“xxx是什么”，“xxx怎么用”等等。
#用户输入#要尽可能自然流畅，不要太过冗长。
"用户输入"不允许出现在#用户输入#中

样例1
#关键词#: ["欢乐透"]
#用户输入#: 欢乐透怎么参与呢？

样例2：
#关键词#: ["月月抽好礼", "现金活动"]
#用户输入#: 月月抽好礼的现金活动在哪里参加？

开始：
#关键词#: {{json .Keywords}}
#用户输入#:
`)

// AlpacaResponseMarker separates the prompt from the model's answer.
const AlpacaResponseMarker = "### Response:\n"

var Alpaca = mustParse("alpaca", `Below is an instruction that describes a task, paired with an input that provides further context. Write a response that appropriately completes the request.

### Instruction:
{{.Instruction}}

### Input:
{{.Input}}

`+AlpacaResponseMarker+`{{.Output}}`)

// Intent instruction used for seed records and alpaca inference.
const IntentInstruction = "你是一个强大的意图识别专家，你能准确地识别输入中的意图类别，如果输入中的意图存在于#意图列表#中，则将其加入到返回结果中。\n#意图列表#:\n"

func IntentInstructionFor(intents []string) string {
	return IntentInstruction + toJSON(intents)
}
