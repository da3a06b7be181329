package main

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit         key.Binding
	Search       key.Binding
	Confirm      key.Binding
	Escape       key.Binding
	NextPage     key.Binding
	PrevPage     key.Binding
	MoreRows     key.Binding
	FewerRows    key.Binding
	NextSortCol  key.Binding
	PrevSortCol  key.Binding
	ToggleSort   key.Binding
	NextFilter   key.Binding
	CycleOption  key.Binding
	ClearFilters key.Binding
	HideColumn   key.Binding
	Select       key.Binding
	Deselect     key.Binding
	Refresh      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "Quit"),
		),
		Search: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "Search"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "Apply"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "Cancel"),
		),
		NextPage: key.NewBinding(
			key.WithKeys("n", "right"),
			key.WithHelp("n", "Next page"),
		),
		PrevPage: key.NewBinding(
			key.WithKeys("p", "left"),
			key.WithHelp("p", "Previous page"),
		),
		MoreRows: key.NewBinding(
			key.WithKeys("+"),
			key.WithHelp("+", "More rows"),
		),
		FewerRows: key.NewBinding(
			key.WithKeys("-"),
			key.WithHelp("-", "Fewer rows"),
		),
		NextSortCol: key.NewBinding(
			key.WithKeys(">"),
			key.WithHelp(">", "Sort next column"),
		),
		PrevSortCol: key.NewBinding(
			key.WithKeys("<"),
			key.WithHelp("<", "Sort previous column"),
		),
		ToggleSort: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "Flip sort"),
		),
		NextFilter: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "Next filter"),
		),
		CycleOption: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "Cycle filter value"),
		),
		ClearFilters: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Clear filters"),
		),
		HideColumn: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "Hide sorted column"),
		),
		Select: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "Select row"),
		),
		Deselect: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "Deselect"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Refresh"),
		),
	}
}
