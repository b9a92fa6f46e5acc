package extract

// Built-in supplier layouts. Each revision is its own entry: the revisions
// disagree on which monetary token is the unit price and none of them
// supersedes another.
var builtinLayouts = []struct {
	key    Key
	layout Layout
}{
	// ITEM REF DESCRIÇÃO... NCM QTDE UNIT TOTAL
	{Key{Fornecedor1, "v1"}, Layout{
		Anchor:    AnchorNCM,
		Code:      CodeRule{Kind: CodeIndex, N: 1},
		Value:     ValueRule{Kind: ValueOffset, N: 2},
		MinTokens: 8,
	}},
	// ITEM QTDE CÓDIGO DESCRIÇÃO... NCM UNIT TOTAL
	{Key{Fornecedor2, "v1"}, Layout{
		Anchor:    AnchorNCM,
		Code:      CodeRule{Kind: CodeIndex, N: 2},
		Value:     ValueRule{Kind: ValueOffset, N: 1},
		MinTokens: 8,
	}},
	{Key{Fornecedor2, "v2"}, Layout{
		Anchor: AnchorMoney,
		Code:   CodeRule{Kind: CodePrefix, N: 2},
		Value:  ValueRule{Kind: ValueFromEnd, N: 4},
	}},
	{Key{Fornecedor3, "v1"}, Layout{
		Anchor: AnchorNCM,
		Code:   CodeRule{Kind: CodeDigits, N: 5},
		Value:  ValueRule{Kind: ValueNextMoney},
	}},
	{Key{Fornecedor3, "v2"}, Layout{
		Anchor: AnchorNCM,
		Code:   CodeRule{Kind: CodeDigits, N: 5},
		Value:  ValueRule{Kind: ValueFromEnd, N: 2},
	}},
	// Scanned quotes: letter-spaced words, boilerplate and wrapped lines.
	{Key{Fornecedor4, "v1"}, Layout{
		Anchor:       AnchorMoney,
		Code:         CodeRule{Kind: CodeScan, From: 1, MinLen: 5},
		Value:        ValueRule{Kind: ValueAfterAnchor, N: 2},
		MergeLetters: true,
		Clean:        true,
	}},
	{Key{Fornecedor4, "v2"}, Layout{
		Anchor:       AnchorMoney,
		Code:         CodeRule{Kind: CodeIndex, N: 1, ItemNumber: true},
		Value:        ValueRule{Kind: ValueFromEnd, N: 4},
		MergeLetters: true,
		Clean:        true,
	}},
}

var builtinDefaults = map[Tag]string{
	Fornecedor1: "v1",
	Fornecedor2: "v1",
	Fornecedor3: "v1",
	Fornecedor4: "v1",
}
