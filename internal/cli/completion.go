package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/R3E-Network/tokenization_layer/internal/compliance"
	"github.com/R3E-Network/tokenization_layer/internal/tokens"
)

// Program is the command name completion is generated for.
const Program = "tokenctl"

var commands = []string{"create", "action", "status", "encode", "decode", "completion"}

func assetTypeWords() string {
	words := make([]string, 0, len(tokens.AssetTypes))
	for _, t := range tokens.AssetTypes {
		words = append(words, string(t))
	}
	return strings.Join(words, " ")
}

func moduleTypeWords() string {
	words := make([]string, 0, len(compliance.ModuleTypes))
	for _, t := range compliance.ModuleTypes {
		words = append(words, string(t))
	}
	return strings.Join(words, " ")
}

// BashCompletion returns the bash completion script.
func BashCompletion() string {
	return fmt.Sprintf(`#!/bin/bash
# Bash completion for %[1]s

_%[1]s_completion() {
    local cur prev
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    case "${prev}" in
        create)
            COMPREPLY=( $(compgen -W "%[2]s" -- ${cur}) )
            return 0
            ;;
        action)
            COMPREPLY=( $(compgen -W "%[3]s" -- ${cur}) )
            return 0
            ;;
        encode|decode)
            COMPREPLY=( $(compgen -W "%[4]s" -- ${cur}) )
            return 0
            ;;
        --config|--input)
            COMPREPLY=( $(compgen -f -- ${cur}) )
            return 0
            ;;
        completion)
            COMPREPLY=( $(compgen -W "bash zsh fish" -- ${cur}) )
            return 0
            ;;
    esac

    COMPREPLY=( $(compgen -W "%[5]s" -- ${cur}) )
    return 0
}

complete -F _%[1]s_completion %[1]s
`, Program, assetTypeWords(), strings.Join(tokens.ActionNames(), " "), moduleTypeWords(), strings.Join(commands, " "))
}

// ZshCompletion returns the zsh completion script.
func ZshCompletion() string {
	return fmt.Sprintf(`#compdef %[1]s

_%[1]s() {
    local state

    _arguments -C \
        '1: :->command' \
        '2: :->args' \
        '*::arg:->rest'

    case $state in
        command)
            _values 'command' %[5]s
            ;;
        args)
            case $words[1] in
                create)
                    _values 'asset type' %[2]s
                    ;;
                action)
                    _values 'action' %[3]s
                    ;;
                encode|decode)
                    _values 'module type' %[4]s
                    ;;
                completion)
                    _values 'shell' bash zsh fish
                    ;;
            esac
            ;;
    esac
}

_%[1]s "$@"
`, Program, assetTypeWords(), strings.Join(tokens.ActionNames(), " "), moduleTypeWords(), strings.Join(commands, " "))
}

// FishCompletion returns the fish completion script.
func FishCompletion() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Fish completion for %s\n\n", Program)
	for _, c := range commands {
		fmt.Fprintf(&b, "complete -c %s -f -n \"__fish_use_subcommand\" -a %q\n", Program, c)
	}
	sub := func(cmd, words, desc string) {
		fmt.Fprintf(&b, "complete -c %s -f -n \"__fish_seen_subcommand_from %s\" -a %q -d %q\n", Program, cmd, words, desc)
	}
	sub("create", assetTypeWords(), "Asset type")
	sub("action", strings.Join(tokens.ActionNames(), " "), "Token action")
	sub("encode decode", moduleTypeWords(), "Compliance module type")
	sub("completion", "bash zsh fish", "Shell")
	return b.String()
}

// Script returns the completion script for shell.
func Script(shell string) (string, error) {
	switch shell {
	case "bash":
		return BashCompletion(), nil
	case "zsh":
		return ZshCompletion(), nil
	case "fish":
		return FishCompletion(), nil
	default:
		return "", fmt.Errorf("unsupported shell: %s", shell)
	}
}

// InstallCompletion writes the completion script for shell under homeDir and
// prints how to enable it.
func InstallCompletion(shell, homeDir string, out io.Writer) error {
	script, err := Script(shell)
	if err != nil {
		return err
	}

	var installPath string
	switch shell {
	case "bash":
		installPath = filepath.Join(homeDir, ".bash_completion.d", Program)
	case "zsh":
		installPath = filepath.Join(homeDir, ".zsh", "completion", "_"+Program)
	case "fish":
		installPath = filepath.Join(homeDir, ".config", "fish", "completions", Program+".fish")
	}

	if err := os.MkdirAll(filepath.Dir(installPath), 0o755); err != nil {
		return fmt.Errorf("failed to create completion directory: %w", err)
	}
	if err := os.WriteFile(installPath, []byte(script), 0o644); err != nil {
		return fmt.Errorf("failed to write completion script: %w", err)
	}

	fmt.Fprintf(out, "Completion script installed to: %s\n", installPath)
	fmt.Fprintln(out, "\nTo enable completion, add the following to your shell config:")
	switch shell {
	case "bash":
		fmt.Fprintf(out, "  source ~/.bash_completion.d/%s\n", Program)
	case "zsh":
		fmt.Fprintln(out, "  fpath=(~/.zsh/completion $fpath)")
		fmt.Fprintln(out, "  autoload -Uz compinit && compinit")
	case "fish":
		fmt.Fprintln(out, "  # Fish loads completions from ~/.config/fish/completions/")
	}
	return nil
}
